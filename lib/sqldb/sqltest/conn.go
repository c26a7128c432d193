package sqltest

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/dBroker/lib/sqldb"
)

// Conn is a connection to a Server, it implements sqldb.IConn.
//
// A statement that reaches the handler opens a transaction, Commit and Rollback
// end it. Writes are visible right away, the fake only tracks whether a
// transaction is open.
type Conn struct {
	server   *Server
	id       int // session id, guarded by server.mu
	inTx     bool
	inFlight atomic.Int32
	closed   atomic.Bool
}

// ID identifies the current session of the connection on its server.
// It changes on Reconnect.
func (c *Conn) ID() int {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	return c.id
}

func (c *Conn) enter() {
	c.server.observeInFlight(int(c.inFlight.Add(1)))
}

func (c *Conn) leave() {
	c.inFlight.Add(-1)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see sqldb/interface.go)
// --------------------------------------------------------------------------

func (c *Conn) Ping(context.Context) error {
	if c.closed.Load() {
		return sqldb.ErrConnClosed
	}
	return nil
}

func (c *Conn) Reconnect(context.Context) error {
	if c.closed.Load() {
		return sqldb.ErrConnClosed
	}
	c.server.reopen(c)
	c.inTx = false
	c.server.count(func(s *Stats) { s.Reconnects++ })
	return nil
}

func (c *Conn) InTransaction() bool {
	return c.inTx
}

func (c *Conn) Cursor() (sqldb.ICursor, error) {
	if c.closed.Load() {
		return nil, sqldb.ErrConnClosed
	}
	return &Cursor{conn: c, rowCount: -1}, nil
}

// Commit consumes injected faults like a statement does
func (c *Conn) Commit() error {
	if c.closed.Load() {
		return sqldb.ErrConnClosed
	}
	c.inTx = false
	if err := c.server.fault(); err != nil {
		return err
	}
	c.server.count(func(s *Stats) { s.Commits++ })
	return nil
}

func (c *Conn) Rollback() error {
	if c.closed.Load() {
		return sqldb.ErrConnClosed
	}
	c.inTx = false
	c.server.count(func(s *Stats) { s.Rollbacks++ })
	return nil
}

func (c *Conn) EscapeString(s string) string {
	return c.server.dialect.EscapeString(s)
}

func (c *Conn) Dialect() sqldb.Dialect {
	return c.server.dialect
}

func (c *Conn) Close() error {
	if !c.closed.Swap(true) {
		c.server.dropLocks(c)
	}
	return nil
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// Cursor is a cursor on a fake connection, it implements sqldb.ICursor
type Cursor struct {
	conn      *Conn
	columns   []string
	rows      [][]any
	pos       int
	hasResult bool
	rowCount  int64
	lastRowID int64
	closed    bool
}

func (c *Cursor) check() error {
	if c.closed {
		return sqldb.ErrCursorClosed
	}
	if c.conn.closed.Load() {
		return sqldb.ErrConnClosed
	}
	return nil
}

func (c *Cursor) apply(res *Result) {
	if len(res.Columns) > 0 {
		c.columns = res.Columns
		c.rows = res.Rows
		if c.rows == nil {
			c.rows = make([][]any, 0)
		}
		c.hasResult = true
		c.rowCount = int64(len(res.Rows))
	} else {
		c.rowCount = res.RowsAffected
	}
	if res.LastInsertID != 0 {
		c.lastRowID = res.LastInsertID
	}
}

func (c *Cursor) Execute(query string, args []any) error {
	if err := c.check(); err != nil {
		return err
	}
	c.columns, c.rows, c.pos, c.hasResult, c.rowCount = nil, nil, 0, false, -1

	res, err := c.conn.server.run(c.conn, query, args)
	if err != nil {
		return err
	}
	c.apply(res)
	return nil
}

func (c *Cursor) ExecuteMany(query string, argSets [][]any) error {
	if err := c.check(); err != nil {
		return err
	}
	c.columns, c.rows, c.pos, c.hasResult, c.rowCount = nil, nil, 0, false, -1

	var total int64
	for _, args := range argSets {
		res, err := c.conn.server.run(c.conn, query, args)
		if err != nil {
			return err
		}
		total += res.RowsAffected
		if res.LastInsertID != 0 {
			c.lastRowID = res.LastInsertID
		}
	}
	c.rowCount = total
	return nil
}

func (c *Cursor) FetchOne() ([]any, error) {
	if err := c.fetchable(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	c.pos++
	return c.rows[c.pos-1], nil
}

func (c *Cursor) FetchMany(n int) ([][]any, error) {
	if err := c.fetchable(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 1
	}
	end := min(c.pos+n, len(c.rows))
	out := c.rows[c.pos:end]
	c.pos = end
	return out, nil
}

func (c *Cursor) FetchAll() ([][]any, error) {
	if err := c.fetchable(); err != nil {
		return nil, err
	}
	out := c.rows[c.pos:]
	c.pos = len(c.rows)
	return out, nil
}

func (c *Cursor) RowCount() int64       { return c.rowCount }
func (c *Cursor) LastRowID() int64      { return c.lastRowID }
func (c *Cursor) Description() []string { return c.columns }

func (c *Cursor) Close() error {
	c.closed = true
	return nil
}

func (c *Cursor) fetchable() error {
	if err := c.check(); err != nil {
		return err
	}
	if !c.hasResult {
		return sqldb.ErrNoResultSet
	}
	return nil
}
