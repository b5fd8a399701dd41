// Command vtunerd runs the virtual DVB tuner daemon and talks to it.
//
// `vtunerd daemon` runs in the foreground; `start`, `stop` and `restart`
// manage a detached instance. `status` and `sessions` report on it, `tune`,
// `signal` and `feed` drive a tuner the way the DVB stack would, and `relay`
// acts as a simulated control process for end-to-end checks.
package main
