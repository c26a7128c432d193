package sqldb

import (
	"context"
	"database/sql"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/lni/dragonboat/v4/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("sqldb")

// querier is implemented by *sql.Conn and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlConn struct {
	driver     string
	dsn        string
	dialect    Dialect
	autocommit bool

	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx

	closed bool
}

// Open opens one physical session with a database/sql driver.
//
// Every Open creates its own *sql.DB pinned to a single *sql.Conn, so session
// state (transactions, named locks, temporary tables) stays on the same server
// session until Reconnect or Close.
// Unless autocommit is set, the first statement after a Commit or Rollback
// begins a new transaction.
func Open(ctx context.Context, driver, dsn string, autocommit bool) (IConn, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	c := &sqlConn{
		driver:     string(dialect),
		dsn:        dsn,
		dialect:    dialect,
		autocommit: autocommit,
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *sqlConn) connect(ctx context.Context) error {
	db, err := sql.Open(c.driver, c.dsn)
	if err != nil {
		return errors.Wrapf(err, "open %s database", c.driver)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return errors.Wrapf(err, "connect to %s database", c.driver)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return errors.Wrapf(err, "ping %s database", c.driver)
	}

	c.db = db
	c.conn = conn
	return nil
}

func (c *sqlConn) closeHandles() error {
	var err error
	if c.tx != nil {
		// the session is being dropped, a failing rollback changes nothing
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	if c.db != nil {
		if dbErr := c.db.Close(); err == nil {
			err = dbErr
		}
		c.db = nil
	}
	return err
}

// querier returns the handle statements run on, beginning a transaction if needed
func (c *sqlConn) querier(ctx context.Context) (querier, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	if c.conn == nil {
		return nil, sql.ErrConnDone
	}
	if c.autocommit {
		return c.conn, nil
	}
	if c.tx == nil {
		tx, err := c.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		c.tx = tx
	}
	return c.tx, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see sqldb/interface.go)
// --------------------------------------------------------------------------

func (c *sqlConn) Ping(ctx context.Context) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.conn == nil {
		return sql.ErrConnDone
	}
	return c.conn.PingContext(ctx)
}

func (c *sqlConn) Reconnect(ctx context.Context) error {
	if c.closed {
		return ErrConnClosed
	}
	if err := c.closeHandles(); err != nil {
		Logger.Debugf("closing broken %s session: %v", c.driver, err)
	}
	return c.connect(ctx)
}

func (c *sqlConn) InTransaction() bool {
	return c.tx != nil
}

func (c *sqlConn) Cursor() (ICursor, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	return &sqlCursor{conn: c, rowCount: -1}, nil
}

func (c *sqlConn) Commit() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *sqlConn) Rollback() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

func (c *sqlConn) EscapeString(s string) string {
	return c.dialect.EscapeString(s)
}

func (c *sqlConn) Dialect() Dialect {
	return c.dialect
}

func (c *sqlConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.closeHandles()
}
