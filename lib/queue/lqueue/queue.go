package lqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/juju/clock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("queue")

// minJanitorInterval bounds how often the janitor scans the queues
const minJanitorInterval = time.Second

// entry is a single value waiting in a queue
type entry struct {
	value    []byte
	pushedAt time.Time
}

// list is the FIFO of one key.
// notify is closed and replaced on every push so that waiting poppers wake up.
type list struct {
	mu      sync.Mutex
	items   []entry
	notify  chan struct{}
	waiters int
	dead    bool // set by the janitor right before the list is removed from the map
}

func newList() *list {
	return &list{notify: make(chan struct{})}
}

type queueImpl struct {
	lists     *xsync.MapOf[string, *list]
	clock     clock.Clock
	retention time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// Options configures a local queue
type Options struct {
	// Retention drops values that were not popped within this duration (0 keeps them forever)
	Retention time.Duration
	// Clock used for pop timeouts and retention (defaults to the wall clock)
	Clock clock.Clock
}

// NewLocalQueue creates a new in-process queue.
// If a retention is configured a janitor goroutine drops stale values until Close is called.
func NewLocalQueue(opts Options) queue.IQueue {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}

	q := &queueImpl{
		lists:     xsync.NewMapOf[string, *list](),
		clock:     opts.Clock,
		retention: opts.Retention,
		stopCh:    make(chan struct{}),
	}

	if q.retention > 0 {
		go q.janitor()
	}

	return q
}

// --------------------------------------------------------------------------
// Interface Methods (docu see queue/interface.go)
// --------------------------------------------------------------------------

func (q *queueImpl) Push(key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("queue key must not be empty")
	}

	for {
		l, _ := q.lists.LoadOrCompute(key, newList)

		l.mu.Lock()
		if l.dead {
			// the janitor is removing this list, retry with a fresh one
			l.mu.Unlock()
			continue
		}
		l.items = append(l.items, entry{value: value, pushedAt: q.clock.Now()})
		close(l.notify)
		l.notify = make(chan struct{})
		l.mu.Unlock()

		return nil
	}
}

func (q *queueImpl) Pop(key string, timeout time.Duration) ([]byte, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("queue key must not be empty")
	}

	var timer clock.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = q.clock.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.Chan()
	}

	for {
		l, _ := q.lists.LoadOrCompute(key, newList)

		l.mu.Lock()
		if l.dead {
			l.mu.Unlock()
			continue
		}

		// Fast path: a value is waiting
		if len(l.items) > 0 {
			e := l.items[0]
			l.items[0] = entry{}
			l.items = l.items[1:]
			l.mu.Unlock()
			return e.value, true, nil
		}

		// Non-blocking pop
		if timeoutCh == nil {
			l.mu.Unlock()
			return nil, false, nil
		}

		notify := l.notify
		l.waiters++
		l.mu.Unlock()

		select {
		case <-notify:
			l.mu.Lock()
			l.waiters--
			l.mu.Unlock()
		case <-timeoutCh:
			l.mu.Lock()
			l.waiters--
			l.mu.Unlock()
			return nil, false, nil
		case <-q.stopCh:
			l.mu.Lock()
			l.waiters--
			l.mu.Unlock()
			return nil, false, fmt.Errorf("queue is closed")
		}
	}
}

func (q *queueImpl) Len(key string) (int, error) {
	l, ok := q.lists.Load(key)
	if !ok {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items), nil
}

func (q *queueImpl) Close() error {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// janitor periodically drops values older than the retention and removes idle lists
func (q *queueImpl) janitor() {
	interval := q.retention / 2
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.clock.After(interval):
			q.sweep()
		}
	}
}

// sweep runs one janitor pass
func (q *queueImpl) sweep() {
	cutoff := q.clock.Now().Add(-q.retention)
	dropped := 0

	q.lists.Range(func(key string, l *list) bool {
		l.mu.Lock()

		// items are ordered by push time, so stale values are a prefix
		n := 0
		for n < len(l.items) && l.items[n].pushedAt.Before(cutoff) {
			n++
		}
		if n > 0 {
			clear(l.items[:n])
			l.items = l.items[n:]
			dropped += n
		}

		remove := len(l.items) == 0 && l.waiters == 0
		if remove {
			l.dead = true
		}
		l.mu.Unlock()

		if remove {
			q.lists.Compute(key, func(old *list, loaded bool) (*list, bool) {
				return old, !loaded || old == l
			})
		}
		return true
	})

	if dropped > 0 {
		Logger.Debugf("dropped %d unread values older than %s", dropped, q.retention)
	}
}
