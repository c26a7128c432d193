package pool

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dBroker/lib/pool/internal"
	"github.com/juju/clock"
)

type lease struct {
	dbID  string
	index int
	seq   uint64
}

// leaseManager hands out exclusive slot indices and reclaims them after the ttl.
//
// Free indices wait in a buffered channel. Every outstanding lease has an expiry
// record; a single sweeper goroutine sleeps until the earliest deadline and
// reclaims everything that is due. Release and expiry both remove the lease
// under mu, so exactly one of them returns the index.
type leaseManager struct {
	clock clock.Clock
	ttl   time.Duration

	freeCh chan int

	mu        sync.Mutex
	nextSeq   uint64
	bySeq     map[uint64]lease
	deadlines *internal.Deadlines
	onExpired func(dbID string, seq uint64, index int) // called with mu held
	onExpire  func(dbID string, index int)             // called without mu
	recycle   func(index int)                          // called without mu, before the index is free again

	kickCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

func newLeaseManager(clk clock.Clock, ttl time.Duration, indices []int, onExpired func(string, uint64, int), recycle func(int)) *leaseManager {
	m := &leaseManager{
		clock:     clk,
		ttl:       ttl,
		freeCh:    make(chan int, len(indices)),
		bySeq:     make(map[uint64]lease),
		deadlines: internal.NewDeadlines(),
		onExpired: onExpired,
		recycle:   recycle,
		kickCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, i := range indices {
		m.freeCh <- i
	}
	go m.sweep()
	return m
}

// acquire waits up to wait for a free index and records a lease for dbID.
// register runs with mu held, before the lease can expire.
func (m *leaseManager) acquire(dbID string, wait time.Duration, closed <-chan struct{}, register func(seq uint64, index int)) (int, error) {
	var index int
	select {
	case index = <-m.freeCh:
	default:
		timer := m.clock.NewTimer(wait)
		defer timer.Stop()

		select {
		case index = <-m.freeCh:
		case <-timer.Chan():
			return 0, ErrLeaseExhausted
		case <-closed:
			return 0, ErrPoolClosed
		}
	}

	m.mu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	m.bySeq[seq] = lease{dbID: dbID, index: index, seq: seq}
	register(seq, index)

	prev, hadPrev := m.deadlines.Next()
	deadline := m.clock.Now().Add(m.ttl)
	m.deadlines.Schedule(seq, deadline)
	m.mu.Unlock()

	// wake the sweeper if it sleeps longer than this lease lives
	if !hadPrev || deadline.Before(prev) {
		m.kick()
	}
	return index, nil
}

// release ends the lease seq of dbID. forget runs with mu held if the lease was still outstanding.
func (m *leaseManager) release(dbID string, seq uint64, forget func()) bool {
	m.mu.Lock()
	l, ok := m.bySeq[seq]
	if !ok || l.dbID != dbID {
		m.mu.Unlock()
		return false
	}
	delete(m.bySeq, seq)
	m.deadlines.Cancel(seq)
	forget()
	m.mu.Unlock()

	m.recycle(l.index)
	m.freeCh <- l.index
	return true
}

func (m *leaseManager) setOnExpire(fn func(dbID string, index int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

func (m *leaseManager) free() int {
	return len(m.freeCh)
}

func (m *leaseManager) kick() {
	select {
	case m.kickCh <- struct{}{}:
	default:
	}
}

func (m *leaseManager) stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}

// sweep is the background loop reclaiming expired leases
func (m *leaseManager) sweep() {
	defer close(m.doneCh)

	for {
		m.mu.Lock()
		next, ok := m.deadlines.Next()
		m.mu.Unlock()

		var timer clock.Timer
		var timeoutCh <-chan time.Time
		if ok {
			timer = m.clock.NewTimer(max(next.Sub(m.clock.Now()), 0))
			timeoutCh = timer.Chan()
		}

		select {
		case <-m.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-m.kickCh:
		case <-timeoutCh:
			m.reclaimDue()
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// reclaimDue expires every lease whose deadline passed
func (m *leaseManager) reclaimDue() {
	m.mu.Lock()
	var expired []lease
	for _, seq := range m.deadlines.PopDue(m.clock.Now()) {
		l, ok := m.bySeq[seq]
		if !ok {
			continue
		}
		delete(m.bySeq, seq)
		m.onExpired(l.dbID, l.seq, l.index)
		expired = append(expired, l)
	}
	onExpire := m.onExpire
	m.mu.Unlock()

	for _, l := range expired {
		if onExpire != nil {
			onExpire(l.dbID, l.index)
		}
		m.recycle(l.index)
		m.freeCh <- l.index
	}
}
