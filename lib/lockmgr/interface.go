package lockmgr

import "time"

// IPrimitives are the database-native lock operations the polling lock is built from.
// A lock taken through one IPrimitives value is owned by that value (for SQL
// backends: by its database session) and can only be released through it.
type IPrimitives interface {
	// IsFree reports whether nobody holds the named lock right now.
	IsFree(name string) (bool, error)

	// TryAcquire attempts to take the named lock, waiting at most bound for it.
	// It returns false if the lock could not be taken within the bound.
	TryAcquire(name string, bound time.Duration) (bool, error)

	// Release gives the named lock back. Releasing a lock that is not held is not an error.
	Release(name string) error
}

// ILockManager runs work while holding a named lock.
type ILockManager interface {
	// Do waits up to timeout for the named lock, runs fn while holding it and
	// releases it afterwards, even if fn fails or panics.
	// done is false (with a nil error) if the lock could not be taken in time,
	// in that case fn is not run.
	Do(name string, timeout time.Duration, fn func() error) (done bool, err error)
}
