// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI and the relay.
//
// Three services share one socket. Control is used by the external control
// process: it opens sessions, takes requests, posts responses and pushes TS
// data. Tuner is the stack-side surface that drives the proxy frontend and
// demux feeds. Daemon reports status and session history and stops the
// process.
//
// Control sessions belong to the connection that opened them; when the
// connection drops its sessions are closed, which releases any stack call
// still waiting for an answer.
package ipc
