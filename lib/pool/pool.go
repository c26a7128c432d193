package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/VictoriaMetrics/metrics"
	"github.com/juju/clock"
	"github.com/lni/dragonboat/v4/logger"
	pkgerrors "github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("pool")

var (
	// ErrLeaseExhausted is returned by Assign if no exclusive slot became free within the lease wait
	ErrLeaseExhausted = errors.New("no exclusive connection available")
	// ErrUnknownConnection is returned for db ids that were never assigned, closed or expired
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrAlreadyAssigned is returned by Assign for a db id that already has a slot
	ErrAlreadyAssigned = errors.New("connection id already assigned")
	// ErrPoolClosed is returned by Assign after Close
	ErrPoolClosed = errors.New("pool is closed")
)

const (
	DefaultLeaseTTL  = 120 * time.Second
	DefaultLeaseWait = 10 * time.Second

	reconnectTimeout = 10 * time.Second
)

var (
	reconnectsTotal    = metrics.NewCounter("dbroker_reconnects_total")
	leasesExpiredTotal = metrics.NewCounter("dbroker_leases_expired_total")
)

// --------------------------------------------------------------------------
// Policy
// --------------------------------------------------------------------------

// Policy selects how a db id is mapped to a slot
type Policy int

const (
	PolicyPooled     Policy = iota // random shared slot
	PolicyExclusive                // leased slot, reclaimed after the lease ttl
	PolicyConsistent               // the one consistent slot
)

func (p Policy) String() string {
	switch p {
	case PolicyPooled:
		return "pooled"
	case PolicyExclusive:
		return "exclusive"
	case PolicyConsistent:
		return "consistent"
	default:
		return "unknown"
	}
}

// PolicyFor maps the connection kwargs to a policy, exclusive wins if both are set
func PolicyFor(exclusive, consistent bool) Policy {
	switch {
	case exclusive:
		return PolicyExclusive
	case consistent:
		return PolicyConsistent
	default:
		return PolicyPooled
	}
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// Config holds the sizes and timeouts of a pool
type Config struct {
	// PoolSize is the number of shared slots (indices [0, PoolSize))
	PoolSize int
	// ExclusiveSize is the number of leasable slots (indices [PoolSize, PoolSize+ExclusiveSize))
	ExclusiveSize int
	// LeaseTTL after which an exclusive lease is reclaimed
	LeaseTTL time.Duration
	// LeaseWait is how long Assign waits for a free exclusive slot
	LeaseWait time.Duration
	// Clock drives lease expiry and lease waits (defaults to the wall clock)
	Clock clock.Clock
}

// ConnFactory opens the connection for the slot with the given index
type ConnFactory func(index int) (sqldb.IConn, error)

// --------------------------------------------------------------------------
// Slot
// --------------------------------------------------------------------------

// Slot is one physical connection and the mutex guarding it
type Slot struct {
	Index int
	mu    sync.Mutex
	conn  sqldb.IConn
}

// Do runs fn with the slot mutex held.
// If fn fails with a connectivity error, the connection is reconnected in place
// and fn runs once more; a second failure is returned as is.
// fn is not run again if a transaction was open before it: the reconnect dropped
// that transaction and Do fails with sqldb.ErrTransactionLost.
func (s *Slot) Do(fn func(conn sqldb.IConn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inTx := s.conn.InTransaction()
	err := fn(s.conn)
	if err == nil || !sqldb.IsConnectivityError(err) {
		return err
	}

	Logger.Warningf("slot %d lost its connection (%v), reconnecting", s.Index, err)
	rErr := s.reconnect()

	if inTx {
		if rErr != nil {
			Logger.Errorf("failed to reconnect slot %d: %v", s.Index, rErr)
		}
		return fmt.Errorf("slot %d: %w: %w", s.Index, sqldb.ErrTransactionLost, err)
	}
	if rErr != nil {
		return pkgerrors.Wrapf(rErr, "reconnect slot %d after %v", s.Index, err)
	}

	return fn(s.conn)
}

// reset replaces the session of the slot, the caller must not hold the slot mutex
func (s *Slot) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reconnect(); err != nil {
		// the next operation on the slot sees the dead session and reconnects
		Logger.Errorf("failed to reset slot %d: %v", s.Index, err)
	}
}

func (s *Slot) reconnect() error {
	reconnectsTotal.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()
	return s.conn.Reconnect(ctx)
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

type assignment struct {
	index  int
	policy Policy
	seq    uint64 // lease sequence number, 0 for non exclusive assignments
}

// Pool owns all slots of a broker and maps db ids to them.
//
// Slot layout:
//
//	[0, PoolSize)                          pooled
//	[PoolSize, PoolSize+ExclusiveSize)     exclusive
//	PoolSize+ExclusiveSize                 consistent
type Pool struct {
	cfg         Config
	slots       []*Slot
	assignments *xsync.MapOf[string, assignment]
	leases      *leaseManager
	closeOnce   sync.Once
	closed      chan struct{}
}

// New opens all slots and starts the lease sweeper.
// If a connection cannot be opened, the already opened ones are closed again.
func New(cfg Config, factory ConnFactory) (*Pool, error) {
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.PoolSize)
	}
	if cfg.ExclusiveSize < 0 {
		return nil, fmt.Errorf("exclusive size must not be negative, got %d", cfg.ExclusiveSize)
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.LeaseWait <= 0 {
		cfg.LeaseWait = DefaultLeaseWait
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	p := &Pool{
		cfg:         cfg,
		slots:       make([]*Slot, cfg.PoolSize+cfg.ExclusiveSize+1),
		assignments: xsync.NewMapOf[string, assignment](),
		closed:      make(chan struct{}),
	}

	for i := range p.slots {
		conn, err := factory(i)
		if err != nil {
			for _, s := range p.slots[:i] {
				_ = s.conn.Close()
			}
			return nil, pkgerrors.Wrapf(err, "open connection for slot %d", i)
		}
		p.slots[i] = &Slot{Index: i, conn: conn}
	}

	exclusive := make([]int, cfg.ExclusiveSize)
	for i := range exclusive {
		exclusive[i] = cfg.PoolSize + i
	}
	p.leases = newLeaseManager(cfg.Clock, cfg.LeaseTTL, exclusive, p.expire, p.recycle)

	Logger.Infof("opened %d connections (%d pooled, %d exclusive, 1 consistent)",
		len(p.slots), cfg.PoolSize, cfg.ExclusiveSize)
	return p, nil
}

// Assign maps dbID to a slot according to policy and returns the slot index.
// For exclusive assignments it blocks up to the lease wait and fails with
// ErrLeaseExhausted if no exclusive slot became free.
func (p *Pool) Assign(dbID string, policy Policy) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrPoolClosed
	default:
	}

	// claim dbID first, so concurrent calls with the same id cannot both take a slot
	if _, loaded := p.assignments.LoadOrStore(dbID, assignment{index: -1, policy: policy}); loaded {
		return 0, ErrAlreadyAssigned
	}

	switch policy {
	case PolicyExclusive:
		index, err := p.leases.acquire(dbID, p.cfg.LeaseWait, p.closed, func(seq uint64, index int) {
			p.assignments.Store(dbID, assignment{index: index, policy: policy, seq: seq})
		})
		if err != nil {
			p.assignments.Delete(dbID)
			return 0, err
		}
		Logger.Debugf("leased exclusive slot %d to %s", index, dbID)
		return index, nil

	case PolicyConsistent:
		index := p.ConsistentIndex()
		p.assignments.Store(dbID, assignment{index: index, policy: policy})
		return index, nil

	default:
		index := rand.IntN(p.cfg.PoolSize)
		p.assignments.Store(dbID, assignment{index: index, policy: PolicyPooled})
		return index, nil
	}
}

// Lookup returns the slot assigned to dbID
func (p *Pool) Lookup(dbID string) (*Slot, error) {
	a, ok := p.assignments.Load(dbID)
	if !ok || a.index < 0 {
		return nil, ErrUnknownConnection
	}
	return p.slots[a.index], nil
}

// Release forgets the assignment of dbID and returns an exclusive slot to the free list.
// It is idempotent and safe to race with lease expiry; it returns false if
// dbID was not assigned (anymore).
func (p *Pool) Release(dbID string) bool {
	a, ok := p.assignments.Load(dbID)
	if !ok || a.index < 0 {
		return false
	}

	if a.policy == PolicyExclusive {
		released := p.leases.release(dbID, a.seq, func() {
			p.forget(dbID, a.seq)
		})
		if released {
			Logger.Debugf("returned exclusive slot %d of %s", a.index, dbID)
		}
		return released
	}

	removed := false
	p.assignments.Compute(dbID, func(old assignment, loaded bool) (assignment, bool) {
		removed = loaded
		return old, true
	})
	return removed
}

// expire is called by the lease manager for every reclaimed lease, with its mutex held
func (p *Pool) expire(dbID string, seq uint64, index int) {
	p.forget(dbID, seq)
	leasesExpiredTotal.Inc()
	Logger.Warningf("exclusive lease of %s on slot %d expired after %s", dbID, index, p.cfg.LeaseTTL)
}

// recycle runs for every ended exclusive lease before its slot can be leased again.
// The next holder gets a fresh session: nothing of the previous holder survives,
// neither its open transaction nor its session scoped named locks.
func (p *Pool) recycle(index int) {
	p.slots[index].reset()
}

// forget removes the assignment of dbID if it still belongs to lease seq
func (p *Pool) forget(dbID string, seq uint64) {
	p.assignments.Compute(dbID, func(old assignment, loaded bool) (assignment, bool) {
		return old, !loaded || old.seq == seq
	})
}

// OnExpire registers a callback that runs after a lease expired and its db id was forgotten
func (p *Pool) OnExpire(fn func(dbID string, index int)) {
	p.leases.setOnExpire(fn)
}

// Slot returns the slot with the given index
func (p *Pool) Slot(index int) *Slot {
	return p.slots[index]
}

// Size returns the total number of slots
func (p *Pool) Size() int {
	return len(p.slots)
}

// ConsistentIndex returns the index of the consistent slot
func (p *Pool) ConsistentIndex() int {
	return p.cfg.PoolSize + p.cfg.ExclusiveSize
}

// FreeExclusive returns the number of exclusive slots that are not leased
func (p *Pool) FreeExclusive() int {
	return p.leases.free()
}

// Close stops the lease sweeper and closes all connections.
// Calls waiting for an exclusive slot fail with ErrPoolClosed.
func (p *Pool) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.closed)
		p.leases.stop()
		for _, s := range p.slots {
			s.mu.Lock()
			if err := s.conn.Close(); err != nil {
				errs = append(errs, pkgerrors.Wrapf(err, "close slot %d", s.Index))
			}
			s.mu.Unlock()
		}
	})
	return errors.Join(errs...)
}
