package sqldb

import (
	"context"
	"errors"
)

var (
	// ErrNoResultSet is returned by the fetch methods if the last statement produced no rows
	ErrNoResultSet = errors.New("no result set, execute a query first")
	// ErrCursorClosed is returned by every cursor method after Close
	ErrCursorClosed = errors.New("cursor is closed")
	// ErrConnClosed is returned by every connection method after Close
	ErrConnClosed = errors.New("connection is closed")
	// ErrTransactionLost is returned if the session dropped while a transaction was open.
	// The statements of that transaction are gone and are not replayed.
	ErrTransactionLost = errors.New("session dropped with an open transaction")
)

// --------------------------------------------------------------------------
// Connection Interface
// --------------------------------------------------------------------------

// IConn is one physical database session.
//
// Implementations are not safe for concurrent use: the caller serialises all
// calls on a connection and on the cursors created from it (the pool does this
// with the slot mutex).
type IConn interface {
	// Ping checks that the session is still alive.
	Ping(ctx context.Context) error

	// Reconnect replaces the underlying session with a fresh one.
	// Session state is lost: the open transaction, named locks and temporary tables.
	// Cursors created earlier stay usable.
	Reconnect(ctx context.Context) error

	// InTransaction reports whether statements ran since the last Commit or Rollback
	// that the database has not made durable yet. Always false in autocommit mode.
	InTransaction() bool

	// Cursor opens a new cursor on this connection.
	Cursor() (ICursor, error)

	// Commit commits the open transaction, if any.
	Commit() error

	// Rollback rolls the open transaction back, if any.
	Rollback() error

	// EscapeString escapes s for use inside a quoted string literal of this dialect.
	EscapeString(s string) string

	// Dialect returns the SQL dialect spoken by this connection.
	Dialect() Dialect

	// Close closes the session. Later calls fail with ErrConnClosed.
	Close() error
}

// --------------------------------------------------------------------------
// Cursor Interface
// --------------------------------------------------------------------------

// ICursor executes statements on a connection and buffers their results.
type ICursor interface {
	// Execute runs a single statement with positional arguments.
	// Statements that produce rows replace the buffered result set.
	Execute(query string, args []any) error

	// ExecuteMany runs the same statement once per argument set.
	ExecuteMany(query string, argSets [][]any) error

	// FetchOne returns the next row or nil if the result set is exhausted.
	FetchOne() ([]any, error)

	// FetchMany returns up to n of the remaining rows.
	FetchMany(n int) ([][]any, error)

	// FetchAll returns all remaining rows.
	FetchAll() ([][]any, error)

	// RowCount is the number of rows produced or affected by the last statement, -1 before the first.
	RowCount() int64

	// LastRowID is the id generated by the last insert (0 if the driver does not report it).
	LastRowID() int64

	// Description returns the column names of the current result set.
	Description() []string

	// Close releases the cursor.
	Close() error
}
