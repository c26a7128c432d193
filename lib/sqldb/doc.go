// Package sqldb wraps database/sql in a cursor oriented connection API.
//
// The broker keeps a fixed number of physical database sessions open and hands
// out cursors on them to remote callers. database/sql pools connections on its
// own and hides which session a statement runs on, which breaks session bound
// features like transactions spanning several commands or named locks. This
// package therefore pins every IConn to exactly one *sql.Conn.
//
// Key Components:
//
//   - IConn: one physical session. Ping, Reconnect (in place, the IConn value
//     stays the same), Commit, Rollback, EscapeString and Cursor.
//
//   - ICursor: executes statements and buffers the complete result set, so
//     fetching never blocks the session. The methods follow the usual cursor
//     API (Execute, ExecuteMany, FetchOne, FetchMany, FetchAll, RowCount,
//     LastRowID, Description, Close).
//
//   - Dialect: the supported databases (mysql, postgres, sqlserver, sqlite3),
//     string escaping and the statements of the named lock primitives.
//
//   - IsConnectivityError: classifies driver errors into "session dropped"
//     (retry once after a reconnect) and everything else.
//
// Supported drivers are registered by importing this package:
//
//	github.com/go-sql-driver/mysql    -> "mysql"
//	github.com/lib/pq                 -> "postgres"
//	github.com/denisenkom/go-mssqldb  -> "sqlserver"
//	github.com/mattn/go-sqlite3       -> "sqlite3" (requires cgo)
//
// Note on concurrency: neither IConn nor ICursor is safe for concurrent use.
// The broker serialises all access to a session with the slot mutex of the pool.
//
// Note on transactions: unless autocommit is enabled, the first statement after
// Open, Commit or Rollback begins a transaction. Reconnect drops it silently.
//
// The sqltest sub package provides an in-memory IConn with fault injection
// for tests that should not depend on a database server.
package sqldb
