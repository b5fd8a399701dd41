// Package mailbox implements the per-device request/response exchange between
// the tuner stack and the external control process.
//
// A Channel holds one request slot and one response slot guarded by a monitor
// (mutex plus sync.Cond). An exchange token, held for the full round trip,
// keeps at most one request in flight. Both sides block with a context so a
// stack caller or a control session can abandon a wait; detaching the last
// control session releases any producer still waiting on an answer.
package mailbox
