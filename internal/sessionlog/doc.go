// Package sessionlog journals control sessions in a SQLite database so the
// daemon can report session history across restarts.
package sessionlog
