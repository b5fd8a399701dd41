// Package relay implements a reference control process. It opens a session
// on one virtual tuner, answers every forwarded request from a simulated
// frontend and can push a TS file back so the demux path sees traffic.
//
// The daemon and the stack can be exercised end to end with it, without a
// real remote tuner.
package relay
