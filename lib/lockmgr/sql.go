package lockmgr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/dBroker/lib/broker/proxy"
	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/pkg/errors"
)

type sqlPrimitives struct {
	db      *proxy.DB
	dialect sqldb.Dialect

	mu  sync.Mutex
	cur *proxy.Cursor
}

// NewSQLPrimitives creates lock primitives that run the named lock statements of
// dialect through a broker connection.
// The locks belong to the database session behind db, which should therefore be a
// consistent or exclusive connection.
func NewSQLPrimitives(db *proxy.DB, dialect sqldb.Dialect) (IPrimitives, error) {
	if _, _, err := dialect.IsFreeLockSQL(""); err != nil {
		return nil, err
	}
	return &sqlPrimitives{db: db, dialect: dialect}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (p *sqlPrimitives) IsFree(name string) (bool, error) {
	query, args, err := p.dialect.IsFreeLockSQL(name)
	if err != nil {
		return false, err
	}
	return p.queryBool(query, args)
}

func (p *sqlPrimitives) TryAcquire(name string, bound time.Duration) (bool, error) {
	query, args, err := p.dialect.AcquireLockSQL(name, bound)
	if err != nil {
		return false, err
	}
	return p.queryBool(query, args)
}

func (p *sqlPrimitives) Release(name string) error {
	query, args, err := p.dialect.ReleaseLockSQL(name)
	if err != nil {
		return err
	}
	_, err = p.queryBool(query, args)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// queryBool runs a single value statement and interprets the value as a boolean
func (p *sqlPrimitives) queryBool(query string, args []any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur == nil {
		cur, err := p.db.Cursor()
		if err != nil {
			return false, errors.Wrap(err, "open lock cursor")
		}
		p.cur = cur
	}

	if _, err := p.cur.Execute(query, args...); err != nil {
		return false, err
	}
	row, err := p.cur.FetchOne()
	if err != nil {
		return false, err
	}
	if len(row) == 0 {
		return false, fmt.Errorf("lock statement returned no value: %s", query)
	}
	return truthy(row[0]), nil
}

// truthy interprets the result of a lock function, NULL counts as false
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
		f, err := strconv.ParseFloat(t, 64)
		return err == nil && f != 0
	default:
		return false
	}
}
