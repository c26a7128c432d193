package sqldb

import (
	"context"
	"database/sql"
)

type sqlCursor struct {
	conn *sqlConn

	columns   []string
	rows      [][]any
	pos       int
	hasResult bool

	rowCount  int64
	lastRowID int64
	closed    bool
}

// reset drops the result of the previous statement
func (c *sqlCursor) reset() {
	c.columns = nil
	c.rows = nil
	c.pos = 0
	c.hasResult = false
	c.rowCount = -1
}

// --------------------------------------------------------------------------
// Interface Methods (docu see sqldb/interface.go)
// --------------------------------------------------------------------------

func (c *sqlCursor) Execute(query string, args []any) error {
	if c.closed {
		return ErrCursorClosed
	}
	c.reset()

	ctx := context.Background()
	q, err := c.conn.querier(ctx)
	if err != nil {
		return err
	}

	if returnsRows(query) {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return c.load(rows)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	c.record(res)
	return nil
}

func (c *sqlCursor) ExecuteMany(query string, argSets [][]any) error {
	if c.closed {
		return ErrCursorClosed
	}
	c.reset()

	ctx := context.Background()
	q, err := c.conn.querier(ctx)
	if err != nil {
		return err
	}

	var total int64
	for _, args := range argSets {
		res, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
		if id, err := res.LastInsertId(); err == nil {
			c.lastRowID = id
		}
	}
	c.rowCount = total
	return nil
}

func (c *sqlCursor) FetchOne() ([]any, error) {
	if err := c.checkResult(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return row, nil
}

func (c *sqlCursor) FetchMany(n int) ([][]any, error) {
	if err := c.checkResult(); err != nil {
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

func (c *sqlCursor) FetchAll() ([][]any, error) {
	if err := c.checkResult(); err != nil {
		return nil, err
	}
	out := c.rows[c.pos:]
	c.pos = len(c.rows)
	return out, nil
}

func (c *sqlCursor) RowCount() int64 {
	return c.rowCount
}

func (c *sqlCursor) LastRowID() int64 {
	return c.lastRowID
}

func (c *sqlCursor) Description() []string {
	return c.columns
}

func (c *sqlCursor) Close() error {
	c.closed = true
	c.reset()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *sqlCursor) checkResult() error {
	if c.closed {
		return ErrCursorClosed
	}
	if !c.hasResult {
		return ErrNoResultSet
	}
	return nil
}

func (c *sqlCursor) record(res sql.Result) {
	if n, err := res.RowsAffected(); err == nil {
		c.rowCount = n
	}
	if id, err := res.LastInsertId(); err == nil {
		c.lastRowID = id
	}
}

// load buffers the whole result set so the session is free for the next statement
func (c *sqlCursor) load(rows *sql.Rows) error {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}

	out := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range values {
			// drivers return text columns as []byte, the broker ships them as strings
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// statements like "DECLARE" or "PRAGMA x = y" may run through Query without producing columns
	if len(columns) == 0 {
		c.rowCount = 0
		return nil
	}

	c.columns = columns
	c.rows = out
	c.hasResult = true
	c.rowCount = int64(len(out))
	return nil
}
