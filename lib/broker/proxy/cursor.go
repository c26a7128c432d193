package proxy

import (
	"errors"
	"sync"

	"github.com/ValentinKolb/dBroker/lib/broker"
)

// ErrCursorClosed is returned by every call on a closed cursor
var ErrCursorClosed = errors.New("cursor is closed")

// Cursor is a remote cursor, every method is one round trip to the broker
type Cursor struct {
	db *DB
	id string

	mu     sync.Mutex
	closed bool
}

// ID returns the curr id of the cursor
func (c *Cursor) ID() string {
	return c.id
}

func (c *Cursor) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Cursor) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Cursor) op(op broker.CursorOp, args []any, out any) error {
	if c.isClosed() {
		return ErrCursorClosed
	}
	return c.db.send(op.CommandType(), string(op), c.id, args, out)
}

// --------------------------------------------------------------------------
// Functions
// --------------------------------------------------------------------------

// Execute runs a statement and returns its row count
func (c *Cursor) Execute(query string, args ...any) (int64, error) {
	if args == nil {
		args = []any{}
	}
	var n int64
	err := c.op(broker.OpExecute, []any{query, args}, &n)
	return n, err
}

// ExecuteMany runs a statement once per argument set and returns the total row count
func (c *Cursor) ExecuteMany(query string, argSets [][]any) (int64, error) {
	var n int64
	err := c.op(broker.OpExecuteMany, []any{query, argSets}, &n)
	return n, err
}

// FetchOne returns the next row or nil if the result set is exhausted
func (c *Cursor) FetchOne() ([]any, error) {
	var row []any
	err := c.op(broker.OpFetchOne, nil, &row)
	return row, err
}

// FetchMany returns up to n rows
func (c *Cursor) FetchMany(n int) ([][]any, error) {
	var rows [][]any
	err := c.op(broker.OpFetchMany, []any{n}, &rows)
	return rows, err
}

// FetchAll returns all remaining rows
func (c *Cursor) FetchAll() ([][]any, error) {
	var rows [][]any
	err := c.op(broker.OpFetchAll, nil, &rows)
	return rows, err
}

// Close closes the cursor on the broker. Closing twice is a no-op.
func (c *Cursor) Close() error {
	if c.isClosed() {
		return nil
	}
	if err := c.op(broker.OpClose, nil, nil); err != nil {
		return err
	}
	c.markClosed()
	c.db.untrack(c.id)
	return nil
}

// --------------------------------------------------------------------------
// Attributes
// --------------------------------------------------------------------------

// RowCount returns the row count of the last statement
func (c *Cursor) RowCount() (int64, error) {
	var n int64
	err := c.op(broker.AttrRowCount, nil, &n)
	return n, err
}

// LastRowID returns the id generated by the last insert
func (c *Cursor) LastRowID() (int64, error) {
	var id int64
	err := c.op(broker.AttrLastRowID, nil, &id)
	return id, err
}

// Description returns the column names of the current result set
func (c *Cursor) Description() ([]string, error) {
	var cols []string
	err := c.op(broker.AttrDescription, nil, &cols)
	return cols, err
}
