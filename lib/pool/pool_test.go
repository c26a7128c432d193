package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/ValentinKolb/dBroker/lib/sqldb/sqltest"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg Config) (*Pool, *sqltest.Server) {
	t.Helper()
	srv := sqltest.NewServer(sqldb.DialectMySQL)
	p, err := New(cfg, srv.Factory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, srv
}

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, PolicyPooled, PolicyFor(false, false))
	assert.Equal(t, PolicyExclusive, PolicyFor(true, false))
	assert.Equal(t, PolicyConsistent, PolicyFor(false, true))
	assert.Equal(t, PolicyExclusive, PolicyFor(true, true))
}

func TestNewValidatesAndCleansUp(t *testing.T) {
	_, err := New(Config{PoolSize: 0}, sqltest.NewServer(sqldb.DialectMySQL).Factory())
	assert.Error(t, err)

	srv := sqltest.NewServer(sqldb.DialectMySQL)
	var opened []*sqltest.Conn
	_, err = New(Config{PoolSize: 3}, func(index int) (sqldb.IConn, error) {
		if index == 2 {
			return nil, errors.New("refused")
		}
		c := srv.Open()
		opened = append(opened, c)
		return c, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot 2")
	for _, c := range opened {
		assert.ErrorIs(t, c.Ping(context.Background()), sqldb.ErrConnClosed)
	}
}

func TestSlotLayout(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolSize: 10, ExclusiveSize: 2})

	assert.Equal(t, 13, p.Size())
	assert.Equal(t, 12, p.ConsistentIndex())

	for i := 0; i < 50; i++ {
		idx, err := p.Assign(fmt.Sprintf("pooled-%d", i), PolicyPooled)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 10)
	}

	_, err := p.Assign("pooled-0", PolicyPooled)
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestConsistentPinning(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolSize: 4, ExclusiveSize: 1})

	a, err := p.Assign("a", PolicyConsistent)
	require.NoError(t, err)
	b, err := p.Assign("b", PolicyConsistent)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, p.ConsistentIndex(), a)

	sa, err := p.Lookup("a")
	require.NoError(t, err)
	sb, err := p.Lookup("b")
	require.NoError(t, err)
	assert.Same(t, sa, sb)

	assert.True(t, p.Release("a"))
	assert.False(t, p.Release("a"))
	_, err = p.Lookup("a")
	assert.ErrorIs(t, err, ErrUnknownConnection)
	_, err = p.Lookup("b")
	assert.NoError(t, err)
}

func TestExclusiveBound(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolSize: 10, ExclusiveSize: 2, LeaseWait: 5 * time.Second})

	c, err := p.Assign("C", PolicyExclusive)
	require.NoError(t, err)
	d, err := p.Assign("D", PolicyExclusive)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{10, 11}, []int{c, d})
	assert.Equal(t, 0, p.FreeExclusive())

	type result struct {
		index int
		err   error
		at    time.Time
	}
	done := make(chan result, 1)
	go func() {
		idx, err := p.Assign("E", PolicyExclusive)
		done <- result{idx, err, time.Now()}
	}()

	select {
	case <-done:
		t.Fatal("third exclusive assignment must block")
	case <-time.After(200 * time.Millisecond):
	}

	releasedAt := time.Now()
	require.True(t, p.Release("C"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, c, r.index)
		assert.Less(t, r.at.Sub(releasedAt), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked assignment was not served after release")
	}
}

func TestExclusiveExhausted(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolSize: 1, ExclusiveSize: 1, LeaseWait: 50 * time.Millisecond})

	_, err := p.Assign("a", PolicyExclusive)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Assign("b", PolicyExclusive)
	assert.ErrorIs(t, err, ErrLeaseExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, err = p.Lookup("b")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestLeaseExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	p, _ := newTestPool(t, Config{PoolSize: 1, ExclusiveSize: 1, LeaseTTL: 10 * time.Second, Clock: clk})

	expired := make(chan string, 1)
	p.OnExpire(func(dbID string, index int) { expired <- dbID })

	idx, err := p.Assign("C", PolicyExclusive)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, clk.WaitAdvance(10*time.Second, time.Second, 1))

	select {
	case id := <-expired:
		assert.Equal(t, "C", id)
	case <-time.After(2 * time.Second):
		t.Fatal("lease did not expire")
	}

	_, err = p.Lookup("C")
	assert.ErrorIs(t, err, ErrUnknownConnection)
	// the slot is reset before it is free again
	assert.Eventually(t, func() bool { return p.FreeExclusive() == 1 }, 2*time.Second, 5*time.Millisecond)

	// the slot can be leased by another client
	idx, err = p.Assign("E", PolicyExclusive)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	// a late close of the expired lease must not hand the slot out twice
	assert.False(t, p.Release("C"))
	assert.Equal(t, 0, p.FreeExclusive())
	_, err = p.Lookup("E")
	assert.NoError(t, err)

	assert.True(t, p.Release("E"))
	assert.Equal(t, 1, p.FreeExclusive())
}

func TestReleaseCancelsExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	p, _ := newTestPool(t, Config{PoolSize: 1, ExclusiveSize: 1, LeaseTTL: 10 * time.Second, Clock: clk})

	var expirations atomic.Int32
	p.OnExpire(func(string, int) { expirations.Add(1) })

	_, err := p.Assign("C", PolicyExclusive)
	require.NoError(t, err)
	require.NoError(t, clk.WaitAdvance(5*time.Second, time.Second, 1))
	require.True(t, p.Release("C"))

	_, err = p.Assign("D", PolicyExclusive)
	require.NoError(t, err)

	// C's original deadline passes, D's lease is still valid
	clk.Advance(6 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), expirations.Load())
	_, err = p.Lookup("D")
	assert.NoError(t, err)
}

func TestSlotMutualExclusion(t *testing.T) {
	p, srv := newTestPool(t, Config{PoolSize: 1})
	srv.SetDelay(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("db-%d", i)
		_, err := p.Assign(id, PolicyPooled)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := p.Lookup(id)
			if !assert.NoError(t, err) {
				return
			}
			for j := 0; j < 5; j++ {
				assert.NoError(t, slot.Do(func(conn sqldb.IConn) error {
					cur, err := conn.Cursor()
					if err != nil {
						return err
					}
					return cur.Execute("INSERT INTO t VALUES (?)", []any{id})
				}))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, srv.Stats().MaxInFlight)
	assert.Len(t, srv.Rows(), 40)
}

func TestSlotReconnectRetry(t *testing.T) {
	p, srv := newTestPool(t, Config{PoolSize: 1})
	slot := p.Slot(0)

	insert := func(conn sqldb.IConn) error {
		cur, err := conn.Cursor()
		if err != nil {
			return err
		}
		return cur.Execute("INSERT INTO t VALUES (?)", []any{"x"})
	}

	commit := func(conn sqldb.IConn) error {
		return conn.Commit()
	}

	// one dropped connection is invisible
	srv.InjectFaults(nil)
	require.NoError(t, slot.Do(insert))
	assert.Equal(t, 1, srv.Stats().Reconnects)
	assert.Len(t, srv.Rows(), 1)
	require.NoError(t, slot.Do(commit))

	// a second failure is surfaced
	srv.InjectFaults(nil, nil)
	err := slot.Do(insert)
	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.Equal(t, 2, srv.Stats().Reconnects)
	assert.Len(t, srv.Rows(), 1)

	// application errors are not retried
	err = slot.Do(func(conn sqldb.IConn) error {
		cur, _ := conn.Cursor()
		return cur.Execute("FAIL now", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 2, srv.Stats().Reconnects)
}

func TestCloseUnblocksWaiters(t *testing.T) {
	srv := sqltest.NewServer(sqldb.DialectMySQL)
	p, err := New(Config{PoolSize: 1, ExclusiveSize: 1, LeaseWait: time.Minute}, srv.Factory())
	require.NoError(t, err)

	_, err = p.Assign("a", PolicyExclusive)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Assign("b", PolicyExclusive)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by Close")
	}

	_, err = p.Assign("c", PolicyPooled)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestSlotDoesNotReplayOpenTransaction(t *testing.T) {
	p, srv := newTestPool(t, Config{PoolSize: 1})
	slot := p.Slot(0)

	insert := func(conn sqldb.IConn) error {
		cur, err := conn.Cursor()
		if err != nil {
			return err
		}
		return cur.Execute("INSERT INTO t VALUES (?)", []any{"x"})
	}
	commit := func(conn sqldb.IConn) error {
		return conn.Commit()
	}

	t.Run("commit", func(t *testing.T) {
		require.NoError(t, slot.Do(insert))
		commits := srv.Stats().Commits
		reconnects := srv.Stats().Reconnects

		// the session drops during commit, the insert is gone with it
		srv.InjectFaults(nil)
		err := slot.Do(commit)
		require.Error(t, err)
		assert.ErrorIs(t, err, sqldb.ErrTransactionLost)
		assert.ErrorIs(t, err, driver.ErrBadConn)
		assert.True(t, sqldb.IsConnectivityError(err))

		assert.Equal(t, commits, srv.Stats().Commits)
		assert.Equal(t, reconnects+1, srv.Stats().Reconnects)
	})

	t.Run("statement inside a transaction", func(t *testing.T) {
		require.NoError(t, slot.Do(insert))
		rows := len(srv.Rows())

		srv.InjectFaults(nil)
		err := slot.Do(insert)
		assert.ErrorIs(t, err, sqldb.ErrTransactionLost)
		assert.Len(t, srv.Rows(), rows)
	})

	// the slot works again on the new session
	require.NoError(t, slot.Do(insert))
	require.NoError(t, slot.Do(commit))
}

func TestEndedLeaseResetsSession(t *testing.T) {
	p, srv := newTestPool(t, Config{PoolSize: 1, ExclusiveSize: 1})

	query := func(slot *Slot, q string) int64 {
		var v int64
		require.NoError(t, slot.Do(func(conn sqldb.IConn) error {
			cur, err := conn.Cursor()
			if err != nil {
				return err
			}
			if err := cur.Execute(q, []any{"R1", int64(0)}); err != nil {
				return err
			}
			row, err := cur.FetchOne()
			if err != nil {
				return err
			}
			v = row[0].(int64)
			return nil
		}))
		return v
	}

	idx, err := p.Assign("A", PolicyExclusive)
	require.NoError(t, err)
	slot := p.Slot(idx)
	session := slot.conn.(*sqltest.Conn).ID()
	require.Equal(t, int64(1), query(slot, "SELECT GET_LOCK(?, ?)"))
	require.NoError(t, slot.Do(func(conn sqldb.IConn) error {
		assert.True(t, conn.InTransaction())
		return nil
	}))

	// A goes away without releasing its lock
	require.True(t, p.Release("A"))
	assert.Equal(t, 1, srv.Stats().Reconnects)
	assert.NotEqual(t, session, slot.conn.(*sqltest.Conn).ID())
	assert.Equal(t, int64(1), query(p.Slot(0), "SELECT IS_FREE_LOCK(?)"))

	idx, err = p.Assign("B", PolicyExclusive)
	require.NoError(t, err)
	require.NoError(t, p.Slot(idx).Do(func(conn sqldb.IConn) error {
		assert.False(t, conn.InTransaction())
		return nil
	}))
}

func TestAssignSameIDConcurrently(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolSize: 1, ExclusiveSize: 2})

	var wg sync.WaitGroup
	var assigned, rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Assign("same", PolicyExclusive)
			switch {
			case err == nil:
				assigned.Add(1)
			case errors.Is(err, ErrAlreadyAssigned):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), assigned.Load())
	assert.Equal(t, int32(9), rejected.Load())
	assert.Equal(t, 1, p.FreeExclusive())
}
