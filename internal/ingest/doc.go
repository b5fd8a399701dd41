// Package ingest validates transport stream data pushed by the control
// process before it reaches the demultiplexer. Writes are all-or-nothing:
// a buffer is either forwarded as whole packets or rejected outright.
package ingest
