// Package broker defines the wire protocol between database proxies and the dispatcher.
//
// Many processes share a small, fixed set of database connections owned by a
// single dispatcher. A process never talks to the database directly; every
// call on its proxy connection or cursor is turned into a Command, pushed to
// the shared command queue and answered by exactly one Response on a reply
// queue that only the caller reads.
//
// Command envelope (JSON, pushed to "broker:commands"):
//
//	{
//	  "type":         "new_connection" | "close_connection" | "new_cursor" | "commit" |
//	                  "rollback" | "escape_string" | "cursor_function" | "cursor_attribute",
//	  "name":         cursor operation, only for cursor_function / cursor_attribute,
//	  "db_id":        logical connection id,
//	  "curr_id":      cursor id,
//	  "args":         [...],
//	  "kwargs":       {...},           // new_connection: {"exclusive": bool, "consistent": bool}
//	  "response_key": "response:<uuid>"
//	}
//
// Response envelope (JSON, pushed to the response key):
//
//	{ "error_status": bool, "error_text": string, "error_kind": string, "data": any }
//
// Cursor operations form a closed set (see CursorOp). Each operation knows
// whether it is an attribute read (rowcount, lastrowid, description) sent as
// cursor_attribute, or a method call (execute, executemany, fetchone,
// fetchmany, fetchall, close) sent as cursor_function.
//
// Error taxonomy on the client side:
//
//   - *ApplicationError: the broker executed the command and it failed
//     (bad SQL, constraint violation, unknown connection or cursor, ...).
//     ErrorKind tells whether the failure was a connectivity problem that
//     survived the broker's reconnect and retry.
//   - ErrResponseTimeout: no reply arrived within the reply timeout.
//   - ErrExclusiveLeaseExhausted: no exclusive connection became available.
//
// Sub packages:
//
//   - dispatcher: consumes the command queue and executes commands on a pool.
//   - proxy: the client side DB and Cursor types.
package broker
