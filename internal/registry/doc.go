// Package registry owns the virtual tuner instances.
//
// Each Device bundles the mailbox shared with its control process, the PID
// tracker, the ingest validator and the demux sink, together with the
// configured delivery system and attached proxy frontend. Devices live in a
// fixed arena created at startup and are addressed by index.
package registry
