package lockmgr

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
)

func TestLockTable(t *testing.T) {
	table := NewLockTable(nil)

	tests := []struct {
		name string
		run  func() bool
		want bool
	}{
		{"free initially", func() bool { return table.IsFree("a") }, true},
		{"first owner acquires", func() bool { return table.TryAcquire("a", "o1", 0) }, true},
		{"held afterwards", func() bool { return table.IsFree("a") }, false},
		{"same owner re-enters", func() bool { return table.TryAcquire("a", "o1", 0) }, true},
		{"other owner is rejected", func() bool { return table.TryAcquire("a", "o2", 0) }, false},
		{"other owner cannot release", func() bool { return table.Release("a", "o2") }, false},
		{"owner releases", func() bool { return table.Release("a", "o1") }, true},
		{"second release is a no-op", func() bool { return table.Release("a", "o1") }, false},
		{"free again", func() bool { return table.IsFree("a") }, true},
		{"other owner acquires", func() bool { return table.TryAcquire("a", "o2", 0) }, true},
	}

	for _, tt := range tests {
		if got := tt.run(); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLockTableBoundedWait(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	table := NewLockTable(clk)
	assert.True(t, table.TryAcquire("b", "o1", 0))

	// woken by a release
	result := make(chan bool, 1)
	go func() { result <- table.TryAcquire("b", "o2", time.Second) }()
	assert.NoError(t, clk.WaitAdvance(0, time.Second, 1))
	table.Release("b", "o1")
	assert.True(t, <-result)

	// gives up once the bound elapsed
	go func() { result <- table.TryAcquire("b", "o3", time.Second) }()
	assert.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.False(t, <-result)

	owner, held := table.Holder("b")
	assert.True(t, held)
	assert.Equal(t, "o2", owner)
}
