package lockmgr

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// LockTable is an in-memory table of named locks with owners.
// It backs the local primitives and the lock table shard of the RPC server.
// Acquiring a lock the owner already holds succeeds, a single Release frees it.
type LockTable struct {
	clock    clock.Clock
	mu       sync.Mutex
	owners   map[string]string
	released chan struct{} // closed and replaced on every release
}

// NewLockTable creates an empty lock table
func NewLockTable(clk clock.Clock) *LockTable {
	if clk == nil {
		clk = clock.WallClock
	}
	return &LockTable{
		clock:    clk,
		owners:   make(map[string]string),
		released: make(chan struct{}),
	}
}

// IsFree reports whether the named lock is not held by anyone
func (t *LockTable) IsFree(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, held := t.owners[name]
	return !held
}

// TryAcquire takes the named lock for owner, waiting up to bound for a release
func (t *LockTable) TryAcquire(name, owner string, bound time.Duration) bool {
	var timeoutCh <-chan time.Time
	if bound > 0 {
		timer := t.clock.NewTimer(bound)
		defer timer.Stop()
		timeoutCh = timer.Chan()
	}

	for {
		t.mu.Lock()
		if cur, held := t.owners[name]; !held || cur == owner {
			t.owners[name] = owner
			t.mu.Unlock()
			return true
		}
		released := t.released
		t.mu.Unlock()

		if timeoutCh == nil {
			return false
		}

		select {
		case <-released:
		case <-timeoutCh:
			return false
		}
	}
}

// Release frees the named lock if owner holds it.
// It returns false if the lock was held by somebody else or not at all.
func (t *LockTable) Release(name, owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, held := t.owners[name]; !held || cur != owner {
		return false
	}
	delete(t.owners, name)

	close(t.released)
	t.released = make(chan struct{})
	return true
}

// Holder returns the owner of the named lock
func (t *LockTable) Holder(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, held := t.owners[name]
	return owner, held
}
