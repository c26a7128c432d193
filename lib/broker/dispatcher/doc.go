// Package dispatcher executes broker commands against a connection pool.
//
// A single loop pops command envelopes from the command queue and hands them
// to a fixed number of workers through a bounded backlog. The loop itself
// never executes a command, so a slow statement only occupies one worker.
//
// Locking:
//
//   - Every command that touches a connection runs inside Slot.Do, i.e. with
//     the slot mutex held for its full duration.
//   - Cursor operations additionally take the mutex of their cursor id. The
//     order is always slot mutex first, then cursor mutex.
//
// Registry:
//
// The dispatcher maps cursor ids to live cursors and the db id that created
// them. A cursor disappears when "close" is sent for it, when its connection
// is closed or when the exclusive lease of its connection expires.
//
// Failures:
//
// Every failure, including a panic, is caught at the command boundary and
// answered with error_status=true. A command that cannot be decoded is
// answered if its response key can still be read, and dropped otherwise.
//
// Metrics (VictoriaMetrics):
//
//	dbroker_commands_total{type="..."}
//	dbroker_command_errors_total{kind="..."}
//	dbroker_command_duration_seconds{type="..."}
package dispatcher
