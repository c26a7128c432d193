package lockmgr

import (
	"time"

	"github.com/juju/clock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("lockmgr")

const (
	// DefaultPollInterval is the pause between two IsFree checks
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultAttemptBound is how long a single TryAcquire may wait for the lock
	DefaultAttemptBound = 100 * time.Millisecond
)

// Options configures a PollingLock
type Options struct {
	PollInterval time.Duration
	AttemptBound time.Duration
	Clock        clock.Clock
}

// PollingLock is a named mutex built from two lock primitives.
//
// Acquisition happens in two phases: first the lock is polled with IsFree
// until it looks free, then TryAcquire is called with a short bound until it
// succeeds. Both phases share one overall timeout.
type PollingLock struct {
	prims IPrimitives
	opts  Options
}

var _ ILockManager = (*PollingLock)(nil)

// NewPollingLock creates a polling lock on top of the given primitives
func NewPollingLock(prims IPrimitives, opts Options) *PollingLock {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.AttemptBound <= 0 {
		opts.AttemptBound = DefaultAttemptBound
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &PollingLock{prims: prims, opts: opts}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (l *PollingLock) Do(name string, timeout time.Duration, fn func() error) (done bool, err error) {
	acquired, err := l.Acquire(name, timeout)
	if err != nil {
		return false, err
	}
	if !acquired {
		Logger.Warningf("could not acquire lock %q within %s, skipping", name, timeout)
		return false, nil
	}

	defer func() {
		if relErr := l.prims.Release(name); relErr != nil {
			Logger.Errorf("failed to release lock %q: %v", name, relErr)
			if err == nil {
				err = errors.Wrapf(relErr, "release lock %q", name)
			}
		}
	}()

	return true, fn()
}

// --------------------------------------------------------------------------
// Two phase acquisition
// --------------------------------------------------------------------------

// Acquire waits up to timeout for the named lock.
// The caller must call Release if Acquire returned true.
func (l *PollingLock) Acquire(name string, timeout time.Duration) (bool, error) {
	deadline := l.opts.Clock.Now().Add(timeout)

	// Phase 1: poll until the lock looks free
	for {
		free, err := l.prims.IsFree(name)
		if err != nil {
			return false, errors.Wrapf(err, "check lock %q", name)
		}
		if free {
			break
		}

		remaining := deadline.Sub(l.opts.Clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		<-l.opts.Clock.After(min(l.opts.PollInterval, remaining))
	}

	// Phase 2: bounded attempts until one succeeds
	for {
		start := l.opts.Clock.Now()
		ok, err := l.prims.TryAcquire(name, l.opts.AttemptBound)
		if err != nil {
			return false, errors.Wrapf(err, "acquire lock %q", name)
		}
		if ok {
			Logger.Debugf("acquired lock %q", name)
			return true, nil
		}

		now := l.opts.Clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return false, nil
		}

		// some backends return immediately instead of waiting for the bound
		if rest := l.opts.AttemptBound - now.Sub(start); rest > 0 {
			<-l.opts.Clock.After(min(rest, remaining))
		}
	}
}

// Release gives a lock taken with Acquire back
func (l *PollingLock) Release(name string) error {
	return l.prims.Release(name)
}
