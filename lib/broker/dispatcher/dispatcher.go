package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ValentinKolb/dBroker/lib/broker"
	"github.com/ValentinKolb/dBroker/lib/pool"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/im7mortal/kmutex"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc"
)

var Logger = logger.GetLogger("dispatcher")

const (
	// DefaultWorkers is the number of commands executed concurrently
	DefaultWorkers = 10
	// DefaultBacklog is the number of popped commands waiting for a worker
	DefaultBacklog = 100
	// DefaultPollTimeout bounds a single blocking pop of the command loop
	DefaultPollTimeout = time.Second
)

// keyedMutex is a set of mutexes created on first use of their key
type keyedMutex interface {
	Lock(key interface{})
	Unlock(key interface{})
}

type cursorEntry struct {
	dbID   string
	cursor sqldb.ICursor
}

// Options configures a Dispatcher
type Options struct {
	CommandQueue string
	Workers      int
	Backlog      int
	PollTimeout  time.Duration
}

// Dispatcher pops command envelopes from a queue, executes them against the
// pool and pushes exactly one response per command to its reply queue
type Dispatcher struct {
	opts        Options
	queue       queue.IQueue
	pool        *pool.Pool
	ownsPool    bool
	cursors     *xsync.MapOf[string, cursorEntry]
	cursorLocks keyedMutex

	backlog   chan []byte
	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	loopDone  chan struct{}
	workers   *conc.WaitGroup
}

// New creates a dispatcher for an existing pool. The pool stays owned by the caller.
func New(q queue.IQueue, p *pool.Pool, opts Options) *Dispatcher {
	if opts.CommandQueue == "" {
		opts.CommandQueue = broker.DefaultCommandQueue
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}

	d := &Dispatcher{
		opts:        opts,
		queue:       q,
		pool:        p,
		cursors:     xsync.NewMapOf[string, cursorEntry](),
		cursorLocks: kmutex.New(),
		backlog:     make(chan []byte, opts.Backlog),
		stopCh:      make(chan struct{}),
		loopDone:    make(chan struct{}),
		workers:     conc.NewWaitGroup(),
	}
	p.OnExpire(d.dropExpired)
	return d
}

// Open opens the connection pool described by cfg and creates a dispatcher owning it.
// Stop closes the pool again.
func Open(ctx context.Context, cfg broker.BrokerConfig, q queue.IQueue) (*Dispatcher, error) {
	p, err := pool.New(pool.Config{
		PoolSize:      cfg.PoolSize,
		ExclusiveSize: cfg.ExclusiveSize,
		LeaseTTL:      time.Duration(cfg.LeaseTTLSecond) * time.Second,
		LeaseWait:     time.Duration(cfg.LeaseWaitSecond) * time.Second,
	}, func(index int) (sqldb.IConn, error) {
		return sqldb.Open(ctx, cfg.Driver, cfg.DSN, cfg.Autocommit)
	})
	if err != nil {
		return nil, err
	}

	d := New(q, p, Options{
		CommandQueue: cfg.CommandQueue,
		Workers:      cfg.Workers,
		Backlog:      cfg.Backlog,
	})
	d.ownsPool = true
	return d, nil
}

// Pool returns the connection pool of the dispatcher
func (d *Dispatcher) Pool() *pool.Pool {
	return d.pool
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the command loop and the workers
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.workers.Go(func() {
				for raw := range d.backlog {
					d.Handle(raw)
				}
			})
		}
		go d.loop()
		Logger.Infof("dispatching commands from %q with %d workers", d.opts.CommandQueue, d.opts.Workers)
	})
}

// Stop ends the command loop, waits until every popped command is answered
// and closes the pool if the dispatcher owns it
func (d *Dispatcher) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		close(d.stopCh)

		started := true
		d.startOnce.Do(func() { started = false })
		if started {
			<-d.loopDone
			if r := d.workers.WaitAndRecover(); r != nil {
				Logger.Errorf("worker panicked: %v", r.Value)
			}
		}

		if d.ownsPool {
			err = d.pool.Close()
		}
		Logger.Infof("dispatcher stopped")
	})
	return err
}

// loop is the only goroutine popping commands, it never executes them itself
func (d *Dispatcher) loop() {
	defer close(d.loopDone)
	defer close(d.backlog)

	retry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		raw, ok, err := d.queue.Pop(d.opts.CommandQueue, d.opts.PollTimeout)
		if err != nil {
			wait := retry.NextBackOff()
			Logger.Errorf("failed to pop command, retrying in %s: %v", wait, err)
			select {
			case <-d.stopCh:
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		if !ok {
			continue
		}

		// a full backlog holds the loop, nothing is popped that no worker can take
		select {
		case d.backlog <- raw:
		case <-d.stopCh:
			d.reject(raw, "dispatcher stopped before the command could run")
			return
		}
	}
}

// --------------------------------------------------------------------------
// Command handling
// --------------------------------------------------------------------------

// Handle decodes one envelope, executes it and pushes the response
func (d *Dispatcher) Handle(raw []byte) {
	var cmd broker.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		metrics.GetOrCreateCounter(`dbroker_command_errors_total{kind="decode"}`).Inc()
		key := responseKey(raw)
		if key == "" {
			Logger.Errorf("dropping undecodable command without response key: %v", err)
			return
		}
		d.reply(key, broker.NewErrorResponse(broker.KindDecode,
			fmt.Sprintf("failed to decode command: %v", err)))
		return
	}

	resp := d.Execute(&cmd)
	if cmd.ResponseKey == "" {
		Logger.Warningf("%s command without response key, discarding its response", cmd.Type)
		return
	}
	d.reply(cmd.ResponseKey, resp)
}

// Execute runs one command and converts every failure, including panics, into an error response
func (d *Dispatcher) Execute(cmd *broker.Command) (resp *broker.Response) {
	start := time.Now()
	metrics.GetOrCreateCounter(fmt.Sprintf(`dbroker_commands_total{type=%q}`, cmd.Type)).Inc()

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("panic while executing %s: %v\n%s", cmd.Type, r, debug.Stack())
			resp = d.errorResponse(cmd, fmt.Errorf("internal error: %v", r))
		}
		metrics.GetOrCreateHistogram(
			fmt.Sprintf(`dbroker_command_duration_seconds{type=%q}`, cmd.Type),
		).UpdateDuration(start)
	}()

	data, err := d.execute(cmd)
	if err != nil {
		return d.errorResponse(cmd, err)
	}

	resp, err = broker.NewDataResponse(data)
	if err != nil {
		return d.errorResponse(cmd, errors.Wrap(err, "encode result"))
	}
	return resp
}

func (d *Dispatcher) execute(cmd *broker.Command) (any, error) {
	switch cmd.Type {
	case broker.CmdNewConnection:
		return d.newConnection(cmd)
	case broker.CmdCloseConnection:
		return d.closeConnection(cmd)
	case broker.CmdNewCursor:
		return d.newCursor(cmd)
	case broker.CmdCommit:
		return true, d.onSlot(cmd, func(conn sqldb.IConn) error { return conn.Commit() })
	case broker.CmdRollback:
		return true, d.onSlot(cmd, func(conn sqldb.IConn) error { return conn.Rollback() })
	case broker.CmdEscapeString:
		return d.escapeString(cmd)
	case broker.CmdCursorFunction, broker.CmdCursorAttribute:
		return d.cursorOp(cmd)
	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// reject answers a popped command that will not be executed
func (d *Dispatcher) reject(raw []byte, reason string) {
	key := responseKey(raw)
	if key == "" {
		Logger.Warningf("dropping popped command without response key: %s", reason)
		return
	}
	metrics.GetOrCreateCounter(`dbroker_command_errors_total{kind="connectivity"}`).Inc()
	d.reply(key, broker.NewErrorResponse(broker.KindConnectivity, reason))
}

// responseKey reads only the reply queue key of an envelope, "" if there is none
func responseKey(raw []byte) string {
	var env struct {
		ResponseKey string `json:"response_key"`
	}
	if json.Unmarshal(raw, &env) != nil {
		return ""
	}
	return env.ResponseKey
}

func (d *Dispatcher) reply(key string, resp *broker.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		Logger.Errorf("failed to encode response for %s: %v", key, err)
		raw, _ = json.Marshal(broker.NewErrorResponse(broker.KindApplication, "failed to encode response"))
	}
	if err := d.queue.Push(key, raw); err != nil {
		Logger.Errorf("failed to push response to %s: %v", key, err)
	}
}

// errorResponse classifies err and adds the command context to its text
func (d *Dispatcher) errorResponse(cmd *broker.Command, err error) *broker.Response {
	kind := broker.KindApplication
	switch {
	case errors.Is(err, pool.ErrLeaseExhausted):
		kind = broker.KindLeaseExhausted
	case sqldb.IsConnectivityError(err):
		kind = broker.KindConnectivity
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`dbroker_command_errors_total{kind=%q}`, kind)).Inc()

	args := make([]string, len(cmd.Args))
	for i, a := range cmd.Args {
		args[i] = string(a)
	}
	text := fmt.Sprintf("%s %s (db_id=%s, curr_id=%s, args=%v): %v",
		cmd.Type, cmd.Name, cmd.DBID, cmd.CurrID, args, err)

	Logger.Debugf("command failed: %s", text)
	return broker.NewErrorResponse(kind, text)
}

// onSlot runs fn on the slot of the command's db id
func (d *Dispatcher) onSlot(cmd *broker.Command, fn func(conn sqldb.IConn) error) error {
	slot, err := d.pool.Lookup(cmd.DBID)
	if err != nil {
		return err
	}
	return slot.Do(fn)
}
