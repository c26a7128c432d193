package server_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dBroker/lib/broker/dispatcher"
	"github.com/ValentinKolb/dBroker/lib/broker/proxy"
	"github.com/ValentinKolb/dBroker/lib/lockmgr"
	"github.com/ValentinKolb/dBroker/lib/pool"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/ValentinKolb/dBroker/lib/sqldb/sqltest"
	"github.com/ValentinKolb/dBroker/rpc/client"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"github.com/ValentinKolb/dBroker/rpc/serializer"
	"github.com/ValentinKolb/dBroker/rpc/server"
	"github.com/ValentinKolb/dBroker/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	queueShard = 100
	lockShard  = 200
)

// startServer serves a queue and a lock table shard on a unix socket
func startServer(t *testing.T) (*server.RPCServer, common.ClientConfig) {
	t.Helper()

	// unix socket paths are limited in length, t.TempDir() may be too long
	dir, err := os.MkdirTemp("", "dbroker")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "rpc.sock")

	s := server.NewRPCServer(common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: queueShard, Type: common.ShardTypeLocalIQueue},
			{ShardID: lockShard, Type: common.ShardTypeLocalLockTable},
		},
		TimeoutSecond: 10,
		Transport:     common.ServerTransportConfig{Endpoint: socket},
		LogLevel:      "error",
	}, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer())

	go func() {
		_ = s.Serve()
	}()
	t.Cleanup(func() { _ = s.Close() })

	return s, common.ClientConfig{
		TimeoutSecond: 4,
		Transport: common.ClientTransportConfig{
			RetryCount: 2,
			Endpoints:  []string{socket},
		},
	}
}

func connectQueue(t *testing.T, cfg common.ClientConfig) queue.IQueue {
	t.Helper()
	var q queue.IQueue
	require.Eventually(t, func() bool {
		var err error
		q, err = client.NewRPCQueue(queueShard, cfg, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRemoteQueue(t *testing.T) {
	_, cfg := startServer(t)
	q := connectQueue(t, cfg)

	require.NoError(t, q.Push("jobs", []byte("a")))
	require.NoError(t, q.Push("jobs", []byte("b")))

	n, err := q.Len("jobs")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, ok, err := q.Pop("jobs", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), v)

	v, ok, err = q.Pop("jobs", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), v)

	start := time.Now()
	_, ok, err = q.Pop("jobs", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRemoteBlockingPop(t *testing.T) {
	_, cfg := startServer(t)
	producer := connectQueue(t, cfg)
	consumer := connectQueue(t, cfg)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = producer.Push("late", []byte("here"))
	}()

	v, ok, err := consumer.Pop("late", 3*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("here"), v)
}

func TestUnknownShard(t *testing.T) {
	_, cfg := startServer(t)
	connectQueue(t, cfg)

	q, err := client.NewRPCQueue(999, cfg, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer q.Close()

	assert.Error(t, q.Push("x", []byte("y")))
}

func TestRemoteLockPrimitives(t *testing.T) {
	_, cfg := startServer(t)
	connectQueue(t, cfg)

	a, err := client.NewRPCLockPrimitives(lockShard, cfg, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	b, err := client.NewRPCLockPrimitives(lockShard, cfg, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)

	ok, err := a.TryAcquire("R1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	free, err := b.IsFree("R1")
	require.NoError(t, err)
	assert.False(t, free)

	// only the owner can release
	require.NoError(t, b.Release("R1"))
	free, err = b.IsFree("R1")
	require.NoError(t, err)
	assert.False(t, free)

	require.NoError(t, a.Release("R1"))

	l := lockmgr.NewPollingLock(b, lockmgr.Options{PollInterval: 10 * time.Millisecond, AttemptBound: 10 * time.Millisecond})
	done, err := l.Do("R1", time.Second, func() error { return nil })
	require.NoError(t, err)
	assert.True(t, done)
}

func TestBrokerOverRPC(t *testing.T) {
	s, cfg := startServer(t)
	q := connectQueue(t, cfg)

	// the dispatcher consumes the shard in process
	local, ok := s.Queue(queueShard)
	require.True(t, ok)

	srv := sqltest.NewServer(sqldb.DialectMySQL)
	p, err := pool.New(pool.Config{PoolSize: 2}, srv.Factory())
	require.NoError(t, err)
	d := dispatcher.New(local, p, dispatcher.Options{Workers: 2, PollTimeout: 50 * time.Millisecond})
	d.Start()
	defer func() {
		_ = d.Stop()
		_ = p.Close()
	}()

	db, err := proxy.Connect(q, proxy.Options{ReplyTimeout: 3 * time.Second})
	require.NoError(t, err)
	defer db.Close()

	cur, err := db.Cursor()
	require.NoError(t, err)
	_, err = cur.Execute("INSERT INTO t VALUES (?)", "remote")
	require.NoError(t, err)
	require.NoError(t, db.Commit(proxy.CommitOptions{CloseCursors: true}))

	assert.Equal(t, [][]any{{"remote"}}, srv.Rows())
	assert.Empty(t, db.CursorIDs())
}
