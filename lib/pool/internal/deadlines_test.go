package internal

import (
	"sort"
	"testing"
	"time"
)

var base = time.Unix(1_700_000_000, 0)

// TestNewDeadlines tests the creation of an empty store
func TestNewDeadlines(t *testing.T) {
	d := NewDeadlines()

	if d.Len() != 0 {
		t.Errorf("New store should be empty, but has length %d", d.Len())
	}

	if _, ok := d.Next(); ok {
		t.Error("Next on empty store should return ok=false")
	}

	if due := d.PopDue(base); len(due) != 0 {
		t.Errorf("PopDue on empty store should return nothing, got %v", due)
	}
}

// TestScheduleOrder tests that the earliest deadline is always next
func TestScheduleOrder(t *testing.T) {
	d := NewDeadlines()

	d.Schedule(1, base.Add(3*time.Second))
	d.Schedule(2, base.Add(1*time.Second))
	d.Schedule(3, base.Add(2*time.Second))

	next, ok := d.Next()
	if !ok || !next.Equal(base.Add(time.Second)) {
		t.Errorf("Next should be base+1s, got %v (ok=%v)", next, ok)
	}

	// moving the earliest record back changes the order
	d.Schedule(2, base.Add(5*time.Second))
	next, _ = d.Next()
	if !next.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Next should be base+2s after reschedule, got %v", next)
	}

	if d.Len() != 3 {
		t.Errorf("Reschedule must not add a record, have %d", d.Len())
	}
}

// TestCancel tests removing a deadline by sequence number
func TestCancel(t *testing.T) {
	d := NewDeadlines()

	d.Schedule(1, base.Add(time.Second))
	d.Schedule(2, base.Add(2*time.Second))

	if !d.Cancel(1) {
		t.Fatal("Cancel should return true for a scheduled record")
	}
	if d.Contains(1) {
		t.Error("Record 1 should be gone after Cancel")
	}
	if d.Cancel(1) {
		t.Error("Second Cancel should return false")
	}

	next, _ := d.Next()
	if !next.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Next should be base+2s, got %v", next)
	}
}

// TestPopDue tests that exactly the due records are returned in deadline order
func TestPopDue(t *testing.T) {
	d := NewDeadlines()

	deadlines := map[uint64]time.Duration{5: 50, 3: 30, 1: 10, 4: 40, 2: 20}
	for seq, offset := range deadlines {
		d.Schedule(seq, base.Add(offset*time.Second))
	}

	due := d.PopDue(base.Add(30 * time.Second))
	want := []uint64{1, 2, 3}
	if len(due) != len(want) {
		t.Fatalf("PopDue returned %v, want %v", due, want)
	}
	for i := range want {
		if due[i] != want[i] {
			t.Errorf("PopDue[%d] = %d, want %d", i, due[i], want[i])
		}
	}

	if d.Len() != 2 || d.Contains(3) {
		t.Errorf("Due records must be removed, remaining %d", d.Len())
	}
}

// TestManyRecords tests the heap with a larger number of records
func TestManyRecords(t *testing.T) {
	d := NewDeadlines()
	const n = 1000

	offsets := make([]int, n)
	for i := 0; i < n; i++ {
		offsets[i] = (i * 7919) % n
		d.Schedule(uint64(i), base.Add(time.Duration(offsets[i])*time.Millisecond))
	}

	// cancel every third record
	cancelled := 0
	for i := 0; i < n; i += 3 {
		d.Cancel(uint64(i))
		cancelled++
	}

	due := d.PopDue(base.Add(time.Hour))
	if len(due) != n-cancelled {
		t.Fatalf("expected %d due records, got %d", n-cancelled, len(due))
	}

	if !sort.SliceIsSorted(due, func(i, j int) bool { return offsets[due[i]] < offsets[due[j]] }) {
		t.Error("due records are not ordered by deadline")
	}
}
