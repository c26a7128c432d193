package proxy

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dBroker/lib/broker"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("proxy")

// DefaultReplyTimeout is how long a call waits for its response
const DefaultReplyTimeout = 30 * time.Second

// Options configures a proxy connection
type Options struct {
	// Exclusive asks for a leased connection of its own
	Exclusive bool
	// Consistent asks for the connection shared by all consistent callers
	Consistent bool
	// ReplyTimeout bounds every round trip (default 30s)
	ReplyTimeout time.Duration
	// CommandQueue the broker listens on (default broker:commands)
	CommandQueue string
}

// caller performs one round trip: push the command, wait for its reply
type caller struct {
	q    queue.IQueue
	opts Options
}

func (c *caller) call(cmd *broker.Command, out any) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrapf(err, "encode %s command", cmd.Type)
	}
	if err := c.q.Push(c.opts.CommandQueue, raw); err != nil {
		return errors.Wrapf(err, "send %s command", cmd.Type)
	}

	value, ok, err := c.q.Pop(cmd.ResponseKey, c.opts.ReplyTimeout)
	if err != nil {
		return errors.Wrapf(err, "wait for %s response", cmd.Type)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s after %s", broker.ErrResponseTimeout, cmd.Type, cmd.Name, c.opts.ReplyTimeout)
	}

	var resp broker.Response
	if err := json.Unmarshal(value, &resp); err != nil {
		return errors.Wrapf(err, "decode %s response", cmd.Type)
	}
	if err := broker.ErrorFromResponse(cmd, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return broker.DecodeValues(resp.Data, out)
}

// --------------------------------------------------------------------------
// DB
// --------------------------------------------------------------------------

// DB is a logical database connection whose every call is a round trip to the broker.
// It is safe for concurrent use; calls on one DB are serialised by the broker.
type DB struct {
	caller *caller
	id     string

	mu      sync.Mutex
	cursors map[string]*Cursor
	order   []string
	closed  bool
}

// CommitOptions controls what happens to the cursors of a DB on Commit
type CommitOptions struct {
	// CloseCursors closes all tracked cursors after the commit
	CloseCursors bool
	// Exempt lists cursor ids that stay open when CloseCursors is set
	Exempt []string
}

// Connect asks the broker for a new connection and waits for the acknowledgement.
// With Exclusive set, the broker may fail with broker.ErrExclusiveLeaseExhausted.
func Connect(q queue.IQueue, opts Options) (*DB, error) {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.CommandQueue == "" {
		opts.CommandQueue = broker.DefaultCommandQueue
	}

	db := &DB{
		caller:  &caller{q: q, opts: opts},
		id:      uuid.NewString(),
		cursors: make(map[string]*Cursor),
	}

	cmd, err := broker.NewCommand(broker.CmdNewConnection, "", db.id, "", nil, map[string]any{
		"exclusive":  opts.Exclusive,
		"consistent": opts.Consistent,
	})
	if err != nil {
		return nil, err
	}
	if err := db.caller.call(cmd, nil); err != nil {
		return nil, err
	}

	Logger.Debugf("connected %s (exclusive=%v, consistent=%v)", db.id, opts.Exclusive, opts.Consistent)
	return db, nil
}

// ID returns the db id of the connection
func (db *DB) ID() string {
	return db.id
}

func (db *DB) send(t broker.CommandType, name, currID string, args []any, out any) error {
	cmd, err := broker.NewCommand(t, name, db.id, currID, args, nil)
	if err != nil {
		return err
	}
	return db.caller.call(cmd, out)
}

// Cursor opens a new cursor on the broker
func (db *DB) Cursor() (*Cursor, error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, errors.New("connection is closed")
	}
	db.mu.Unlock()

	c := &Cursor{db: db, id: uuid.NewString()}
	if err := db.send(broker.CmdNewCursor, "", c.id, nil, nil); err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.cursors[c.id] = c
	db.order = append(db.order, c.id)
	db.mu.Unlock()
	return c, nil
}

// CursorIDs returns the ids of all open cursors in creation order
func (db *DB) CursorIDs() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.order))
	for _, id := range db.order {
		if _, ok := db.cursors[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Commit commits the transaction of the connection.
// With CloseCursors set, every tracked cursor except the exempt ones is closed afterwards.
func (db *DB) Commit(opts CommitOptions) error {
	if err := db.send(broker.CmdCommit, "", "", nil, nil); err != nil {
		return err
	}
	if !opts.CloseCursors {
		return nil
	}

	exempt := make(map[string]struct{}, len(opts.Exempt))
	for _, id := range opts.Exempt {
		exempt[id] = struct{}{}
	}

	var firstErr error
	for _, id := range db.CursorIDs() {
		if _, skip := exempt[id]; skip {
			continue
		}
		c := db.cursor(id)
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Rollback rolls the transaction of the connection back
func (db *DB) Rollback() error {
	return db.send(broker.CmdRollback, "", "", nil, nil)
}

// EscapeString escapes text with the rules of the broker's database
func (db *DB) EscapeString(text string) (string, error) {
	var escaped string
	err := db.send(broker.CmdEscapeString, "", "", []any{text}, &escaped)
	return escaped, err
}

// Close closes all cursors and releases the connection on the broker.
// Closing twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	for _, c := range db.cursors {
		c.markClosed()
	}
	db.cursors = make(map[string]*Cursor)
	db.order = nil
	db.mu.Unlock()

	return db.send(broker.CmdCloseConnection, "", "", nil, nil)
}

func (db *DB) cursor(id string) *Cursor {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.cursors[id]
}

func (db *DB) untrack(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.cursors, id)
}

// --------------------------------------------------------------------------
// Unit of work
// --------------------------------------------------------------------------

// UnitOfWork runs fn and commits afterwards, then closes the cursors fn created.
// Cursors that existed before (in particular the outer cursors handed in by the
// caller) stay open. If fn fails, the transaction is rolled back instead.
func UnitOfWork(db *DB, outer []*Cursor, fn func() error) error {
	exempt := db.CursorIDs()
	for _, c := range outer {
		exempt = append(exempt, c.ID())
	}

	if err := fn(); err != nil {
		if rbErr := db.Rollback(); rbErr != nil {
			Logger.Errorf("rollback after failed unit of work: %v", rbErr)
		}
		closeAllExcept(db, exempt)
		return err
	}

	return db.Commit(CommitOptions{CloseCursors: true, Exempt: exempt})
}

func closeAllExcept(db *DB, exempt []string) {
	keep := make(map[string]struct{}, len(exempt))
	for _, id := range exempt {
		keep[id] = struct{}{}
	}
	for _, id := range db.CursorIDs() {
		if _, ok := keep[id]; ok {
			continue
		}
		c := db.cursor(id)
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			Logger.Warningf("failed to close cursor %s: %v", id, err)
		}
	}
}
