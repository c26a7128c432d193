package lockmgr

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		PollInterval: 10 * time.Millisecond,
		AttemptBound: 10 * time.Millisecond,
	}
}

func TestDoRunsAndReleases(t *testing.T) {
	table := NewLockTable(nil)
	l := NewPollingLock(NewLocalPrimitives(table), fastOptions())

	ran := false
	done, err := l.Do("R1", time.Second, func() error {
		ran = true
		assert.False(t, table.IsFree("R1"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, ran)
	assert.True(t, table.IsFree("R1"))
}

func TestDoReleasesOnError(t *testing.T) {
	table := NewLockTable(nil)
	l := NewPollingLock(NewLocalPrimitives(table), fastOptions())

	boom := errors.New("boom")
	done, err := l.Do("R1", time.Second, func() error { return boom })
	assert.True(t, done)
	assert.ErrorIs(t, err, boom)
	assert.True(t, table.IsFree("R1"))
}

func TestDoReleasesOnPanic(t *testing.T) {
	table := NewLockTable(nil)
	l := NewPollingLock(NewLocalPrimitives(table), fastOptions())

	assert.Panics(t, func() {
		_, _ = l.Do("R1", time.Second, func() error { panic("boom") })
	})
	assert.True(t, table.IsFree("R1"))
}

func TestContentionHandOver(t *testing.T) {
	table := NewLockTable(nil)
	a := NewPollingLock(NewLocalPrimitives(table), fastOptions())
	b := NewPollingLock(NewLocalPrimitives(table), fastOptions())

	acquired, err := a.Acquire("R1", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	var wg sync.WaitGroup
	var bDone bool
	var bErr error
	var bRanAt time.Time
	releasedAt := make(chan time.Time, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		bDone, bErr = b.Do("R1", 5*time.Second, func() error {
			bRanAt = time.Now()
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, table.IsFree("R1"))
	releasedAt <- time.Now()
	require.NoError(t, a.Release("R1"))

	wg.Wait()
	require.NoError(t, bErr)
	assert.True(t, bDone)
	assert.False(t, bRanAt.Before(<-releasedAt))
	assert.True(t, table.IsFree("R1"))
}

func TestContentionTimeout(t *testing.T) {
	table := NewLockTable(nil)
	a := NewPollingLock(NewLocalPrimitives(table), fastOptions())
	b := NewPollingLock(NewLocalPrimitives(table), fastOptions())

	acquired, err := a.Acquire("R1", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	const timeout = 200 * time.Millisecond
	ran := false
	start := time.Now()
	done, err := b.Do("R1", timeout, func() error {
		ran = true
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, ran)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	// the holder is untouched
	owner, held := table.Holder("R1")
	assert.True(t, held)
	assert.NotEmpty(t, owner)
}

// flakyPrimitives reports the lock as free but only grants it after some attempts,
// like a backend where another session wins the race between IsFree and TryAcquire
type flakyPrimitives struct {
	mu       sync.Mutex
	attempts int
	grantAt  int
	released int
}

func (p *flakyPrimitives) IsFree(string) (bool, error) { return true, nil }

func (p *flakyPrimitives) TryAcquire(string, time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return p.attempts >= p.grantAt, nil
}

func (p *flakyPrimitives) Release(string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return nil
}

func TestAcquireRetriesBoundedAttempts(t *testing.T) {
	prims := &flakyPrimitives{grantAt: 3}
	l := NewPollingLock(prims, fastOptions())

	done, err := l.Do("R2", time.Second, func() error { return nil })
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 3, prims.attempts)
	assert.Equal(t, 1, prims.released)
}

type failingPrimitives struct {
	flakyPrimitives
	releaseErr error
}

func (p *failingPrimitives) Release(string) error { return p.releaseErr }

func TestReleaseErrorSurfaces(t *testing.T) {
	prims := &failingPrimitives{flakyPrimitives: flakyPrimitives{grantAt: 1}, releaseErr: errors.New("gone")}
	l := NewPollingLock(prims, fastOptions())

	done, err := l.Do("R3", time.Second, func() error { return nil })
	assert.True(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")

	// the error of fn wins over the release error
	boom := errors.New("boom")
	_, err = l.Do("R3", time.Second, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}
