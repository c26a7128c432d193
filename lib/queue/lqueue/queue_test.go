package lqueue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	q := NewLocalQueue(Options{})
	defer q.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push("k", []byte(fmt.Sprintf("v%d", i))))
	}

	n, err := q.Len("k")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	for i := 0; i < 5; i++ {
		v, ok, err := q.Pop("k", 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}

	_, ok, err := q.Pop("k", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPopTimeout(t *testing.T) {
	q := NewLocalQueue(Options{})
	defer q.Close()

	start := time.Now()
	_, ok, err := q.Pop("empty", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPopWakesOnPush(t *testing.T) {
	q := NewLocalQueue(Options{})
	defer q.Close()

	result := make(chan string, 1)
	go func() {
		v, ok, err := q.Pop("wake", 5*time.Second)
		if err != nil || !ok {
			result <- ""
			return
		}
		result <- string(v)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push("wake", []byte("hello")))

	select {
	case v := <-result:
		assert.Equal(t, "hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake up after push")
	}
}

func TestKeysAreIsolated(t *testing.T) {
	q := NewLocalQueue(Options{})
	defer q.Close()

	require.NoError(t, q.Push("a", []byte("for-a")))

	_, ok, err := q.Pop("b", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := q.Pop("a", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "for-a", string(v))
}

func TestEachValueDeliveredOnce(t *testing.T) {
	q := NewLocalQueue(Options{})
	defer q.Close()

	const values = 200
	const poppers = 8

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for p := 0; p < poppers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok, err := q.Pop("shared", 100*time.Millisecond)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[string(v)]++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < values; i++ {
		require.NoError(t, q.Push("shared", []byte(fmt.Sprintf("%d", i))))
	}
	wg.Wait()

	assert.Len(t, seen, values)
	for k, c := range seen {
		assert.Equal(t, 1, c, "value %s delivered %d times", k, c)
	}
}

func TestRetentionDropsStaleValues(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	q := NewLocalQueue(Options{Retention: 10 * time.Second, Clock: clk})
	defer q.Close()

	require.NoError(t, q.Push("reply", []byte("abandoned")))

	// janitor runs every retention/2
	require.NoError(t, clk.WaitAdvance(5*time.Second, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(5*time.Second, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(5*time.Second, time.Second, 1))

	assert.Eventually(t, func() bool {
		n, _ := q.Len("reply")
		return n == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEmptyKeyRejected(t *testing.T) {
	q := NewLocalQueue(Options{})
	defer q.Close()

	assert.Error(t, q.Push("", []byte("x")))
	_, _, err := q.Pop("", 0)
	assert.Error(t, err)
}
