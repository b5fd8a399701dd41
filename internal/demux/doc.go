// Package demux receives validated transport stream data for a device,
// keeps per-PID packet counts and optionally records the stream to a file
// or named pipe.
package demux
