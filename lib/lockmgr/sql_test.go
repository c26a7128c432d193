package lockmgr_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dBroker/lib/broker/dispatcher"
	"github.com/ValentinKolb/dBroker/lib/broker/proxy"
	"github.com/ValentinKolb/dBroker/lib/lockmgr"
	"github.com/ValentinKolb/dBroker/lib/pool"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/ValentinKolb/dBroker/lib/queue/lqueue"
	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/ValentinKolb/dBroker/lib/sqldb/sqltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T, cfg pool.Config) queue.IQueue {
	t.Helper()
	srv := sqltest.NewServer(sqldb.DialectMySQL)
	p, err := pool.New(cfg, srv.Factory())
	require.NoError(t, err)

	q := lqueue.NewLocalQueue(lqueue.Options{})
	d := dispatcher.New(q, p, dispatcher.Options{Workers: 4, PollTimeout: 50 * time.Millisecond})
	d.Start()

	t.Cleanup(func() {
		_ = d.Stop()
		_ = p.Close()
		_ = q.Close()
	})
	return q
}

func sqlPrimitives(t *testing.T, q queue.IQueue) lockmgr.IPrimitives {
	t.Helper()
	prims, _ := connectPrimitives(t, q, proxy.Options{Exclusive: true})
	return prims
}

func connectPrimitives(t *testing.T, q queue.IQueue, opts proxy.Options) (lockmgr.IPrimitives, *proxy.DB) {
	t.Helper()
	db, err := proxy.Connect(q, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	prims, err := lockmgr.NewSQLPrimitives(db, sqldb.DialectMySQL)
	require.NoError(t, err)
	return prims, db
}

func TestNewSQLPrimitivesRejectsSQLite(t *testing.T) {
	_, err := lockmgr.NewSQLPrimitives(nil, sqldb.DialectSQLite)
	assert.Error(t, err)
}

func TestSQLPrimitives(t *testing.T) {
	q := startBroker(t, pool.Config{PoolSize: 1, ExclusiveSize: 2})
	a := sqlPrimitives(t, q)
	b := sqlPrimitives(t, q)

	free, err := a.IsFree("nightly")
	require.NoError(t, err)
	assert.True(t, free)

	ok, err := a.TryAcquire("nightly", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// b runs on another session and sees the lock
	free, err = b.IsFree("nightly")
	require.NoError(t, err)
	assert.False(t, free)
	ok, err = b.TryAcquire("nightly", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release("nightly"))
	ok, err = b.TryAcquire("nightly", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPollingLockOverBroker(t *testing.T) {
	q := startBroker(t, pool.Config{PoolSize: 1, ExclusiveSize: 2})
	opts := lockmgr.Options{PollInterval: 10 * time.Millisecond, AttemptBound: 10 * time.Millisecond}
	first := lockmgr.NewPollingLock(sqlPrimitives(t, q), opts)
	second := lockmgr.NewPollingLock(sqlPrimitives(t, q), opts)

	var inside atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_, _ = first.Do("report", 5*time.Second, func() error {
			inside.Add(1)
			close(entered)
			<-release
			inside.Add(-1)
			return nil
		})
	}()
	<-entered

	// the lock is held, so a short attempt gives up without running fn
	done, err := second.Do("report", 100*time.Millisecond, func() error {
		t.Error("ran while the lock was held")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, done)

	close(release)
	done, err = second.Do("report", 5*time.Second, func() error {
		assert.Equal(t, int32(0), inside.Load())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, done)
}

func TestClosedConnectionReleasesNamedLocks(t *testing.T) {
	q := startBroker(t, pool.Config{PoolSize: 1, ExclusiveSize: 1})
	observer, _ := connectPrimitives(t, q, proxy.Options{})

	a, db := connectPrimitives(t, q, proxy.Options{Exclusive: true})
	ok, err := a.TryAcquire("R1", 0)
	require.NoError(t, err)
	require.True(t, ok)

	// the holder disconnects without releasing
	require.NoError(t, db.Close())
	free, err := observer.IsFree("R1")
	require.NoError(t, err)
	assert.True(t, free)

	// the next holder of the same slot starts without the lock
	b := sqlPrimitives(t, q)
	ok, err = b.TryAcquire("R1", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLeaseReleasesNamedLocks(t *testing.T) {
	q := startBroker(t, pool.Config{PoolSize: 1, ExclusiveSize: 1, LeaseTTL: 500 * time.Millisecond})
	observer, _ := connectPrimitives(t, q, proxy.Options{})

	a := sqlPrimitives(t, q)
	ok, err := a.TryAcquire("R1", 0)
	require.NoError(t, err)
	require.True(t, ok)

	free, err := observer.IsFree("R1")
	require.NoError(t, err)
	require.False(t, free)

	// the lease of a runs out while it holds R1
	require.Eventually(t, func() bool {
		free, err := observer.IsFree("R1")
		return err == nil && free
	}, 3*time.Second, 20*time.Millisecond)

	// a no longer owns a session, it cannot act as the holder
	assert.Error(t, a.Release("R1"))

	b := sqlPrimitives(t, q)
	ok, err = b.TryAcquire("R1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	free, err = observer.IsFree("R1")
	require.NoError(t, err)
	assert.False(t, free)
}
