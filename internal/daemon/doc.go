// Package daemon coordinates the long-running vtunerd process.
//
// It wires configuration, the tuner instance registry, the session journal
// and the metrics exporter into a single lifecycle with flock-based locking
// to prevent multiple instances. The IPC layer reaches devices only through
// the daemon so requests fail cleanly before Start and after Stop.
package daemon
