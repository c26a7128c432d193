package dispatcher

import (
	"fmt"

	"github.com/ValentinKolb/dBroker/lib/broker"
	"github.com/ValentinKolb/dBroker/lib/pool"
	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Connection commands
// --------------------------------------------------------------------------

func (d *Dispatcher) newConnection(cmd *broker.Command) (any, error) {
	if cmd.DBID == "" {
		return nil, errors.New("missing db_id")
	}

	var exclusive, consistent bool
	if _, err := cmd.Kwarg("exclusive", &exclusive); err != nil {
		return nil, err
	}
	if _, err := cmd.Kwarg("consistent", &consistent); err != nil {
		return nil, err
	}

	policy := pool.PolicyFor(exclusive, consistent)
	index, err := d.pool.Assign(cmd.DBID, policy)
	if err != nil {
		return nil, err
	}
	Logger.Debugf("new %s connection %s on slot %d", policy, cmd.DBID, index)
	return true, nil
}

// closeConnection closes all cursors of the db id and releases its slot.
// Closing an unknown or already closed connection succeeds.
func (d *Dispatcher) closeConnection(cmd *broker.Command) (any, error) {
	slot, err := d.pool.Lookup(cmd.DBID)
	if errors.Is(err, pool.ErrUnknownConnection) {
		d.forgetCursors(cmd.DBID)
		return true, nil
	}
	if err != nil {
		return nil, err
	}

	// cursors are closed under the slot mutex like every other cursor operation
	_ = slot.Do(func(sqldb.IConn) error {
		d.closeCursors(cmd.DBID)
		return nil
	})

	d.pool.Release(cmd.DBID)
	Logger.Debugf("closed connection %s", cmd.DBID)
	return true, nil
}

// dropExpired is called by the pool after the lease of dbID expired
func (d *Dispatcher) dropExpired(dbID string, index int) {
	_ = d.pool.Slot(index).Do(func(sqldb.IConn) error {
		d.closeCursors(dbID)
		return nil
	})
}

func (d *Dispatcher) newCursor(cmd *broker.Command) (any, error) {
	if cmd.CurrID == "" {
		return nil, errors.New("missing curr_id")
	}
	if _, exists := d.cursors.Load(cmd.CurrID); exists {
		return nil, fmt.Errorf("cursor %s already exists", cmd.CurrID)
	}

	err := d.onSlot(cmd, func(conn sqldb.IConn) error {
		cur, err := conn.Cursor()
		if err != nil {
			return err
		}
		d.cursors.Store(cmd.CurrID, cursorEntry{dbID: cmd.DBID, cursor: cur})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return true, nil
}

func (d *Dispatcher) escapeString(cmd *broker.Command) (any, error) {
	var text string
	if err := cmd.Arg(0, &text); err != nil {
		return nil, err
	}

	var escaped string
	err := d.onSlot(cmd, func(conn sqldb.IConn) error {
		escaped = conn.EscapeString(text)
		return nil
	})
	return escaped, err
}

// --------------------------------------------------------------------------
// Cursor commands
// --------------------------------------------------------------------------

// cursorOp runs a cursor function or attribute read.
// Lock order: slot mutex, then cursor mutex.
func (d *Dispatcher) cursorOp(cmd *broker.Command) (any, error) {
	op, err := broker.ParseCursorOp(cmd.Name)
	if err != nil {
		return nil, err
	}
	if op.CommandType() != cmd.Type {
		return nil, fmt.Errorf("%s must be sent as %s", op, op.CommandType())
	}

	entry, ok := d.cursors.Load(cmd.CurrID)
	if !ok || entry.dbID != cmd.DBID {
		return nil, fmt.Errorf("unknown cursor %s for connection %s", cmd.CurrID, cmd.DBID)
	}

	var result any
	err = d.onSlot(cmd, func(sqldb.IConn) error {
		d.cursorLocks.Lock(cmd.CurrID)
		defer d.cursorLocks.Unlock(cmd.CurrID)

		var err error
		result, err = invoke(entry.cursor, op, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}

	if op == broker.OpClose {
		d.cursors.Delete(cmd.CurrID)
	}
	return result, nil
}

// invoke dispatches the closed set of cursor operations
func invoke(cur sqldb.ICursor, op broker.CursorOp, cmd *broker.Command) (any, error) {
	switch op {
	case broker.OpExecute:
		var query string
		if err := cmd.Arg(0, &query); err != nil {
			return nil, err
		}
		var params []any
		if len(cmd.Args) > 1 {
			if err := broker.DecodeValues(cmd.Args[1], &params); err != nil {
				return nil, err
			}
		}
		if err := cur.Execute(query, params); err != nil {
			return nil, err
		}
		return cur.RowCount(), nil

	case broker.OpExecuteMany:
		var query string
		if err := cmd.Arg(0, &query); err != nil {
			return nil, err
		}
		var argSets [][]any
		if len(cmd.Args) > 1 {
			if err := broker.DecodeValues(cmd.Args[1], &argSets); err != nil {
				return nil, err
			}
		}
		if err := cur.ExecuteMany(query, argSets); err != nil {
			return nil, err
		}
		return cur.RowCount(), nil

	case broker.OpFetchOne:
		return cur.FetchOne()

	case broker.OpFetchMany:
		n := 1
		if len(cmd.Args) > 0 {
			if err := cmd.Arg(0, &n); err != nil {
				return nil, err
			}
		}
		return cur.FetchMany(n)

	case broker.OpFetchAll:
		return cur.FetchAll()

	case broker.OpClose:
		return true, cur.Close()

	case broker.AttrRowCount:
		return cur.RowCount(), nil

	case broker.AttrLastRowID:
		return cur.LastRowID(), nil

	case broker.AttrDescription:
		return cur.Description(), nil

	default:
		return nil, fmt.Errorf("unhandled cursor operation %q", op)
	}
}

// --------------------------------------------------------------------------
// Cursor registry helpers
// --------------------------------------------------------------------------

// closeCursors closes and forgets every cursor of dbID, the caller holds the slot mutex
func (d *Dispatcher) closeCursors(dbID string) {
	d.cursors.Range(func(currID string, e cursorEntry) bool {
		if e.dbID != dbID {
			return true
		}
		d.cursorLocks.Lock(currID)
		if err := e.cursor.Close(); err != nil {
			Logger.Warningf("failed to close cursor %s of %s: %v", currID, dbID, err)
		}
		d.cursors.Delete(currID)
		d.cursorLocks.Unlock(currID)
		return true
	})
}

// forgetCursors removes the cursors of a db id that no longer has a slot
func (d *Dispatcher) forgetCursors(dbID string) {
	d.cursors.Range(func(currID string, e cursorEntry) bool {
		if e.dbID == dbID {
			d.cursors.Delete(currID)
		}
		return true
	})
}
