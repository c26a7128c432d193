// Package internal
//
// This file provides the expiry record store of the exclusive lease manager.
//
// Deadlines combines a binary min-heap with a hash map: the heap orders the
// outstanding leases by their deadline so the sweeper only has to look at the
// earliest one, the map gives O(1) access by lease sequence number so an
// explicit release can drop its record without a scan.
//
//   - O(log n) for Schedule, Cancel and PopDue
//   - O(1) for Next and Contains
//
// Note: Deadlines is not thread-safe, the lease manager guards it with its mutex.
//
// Example usage:
//
//	d := NewDeadlines()
//	d.Schedule(1, now.Add(ttl))
//	next, ok := d.Next()           // earliest deadline
//	d.Cancel(1)                    // explicit release
//	for _, seq := range d.PopDue(now) {
//	    // reclaim lease seq
//	}
package internal

import (
	"container/heap"
	"strconv"
	"time"
)

// record is one outstanding lease in the heap
type record struct {
	Seq      uint64 // lease sequence number
	Deadline int64  // unix nanoseconds
	index    int    // index in the heap, maintained by container/heap
}

func (r *record) String() string {
	return "{Seq: " + strconv.FormatUint(r.Seq, 10) + ", Deadline: " + strconv.FormatInt(r.Deadline, 10) + "}"
}

// recordHeap implements heap.Interface ordered by deadline
type recordHeap struct {
	items []*record
	bySeq map[uint64]*record
}

func (h *recordHeap) Len() int { return len(h.items) }

func (h *recordHeap) Less(i, j int) bool {
	return h.items[i].Deadline < h.items[j].Deadline
}

func (h *recordHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *recordHeap) Push(x any) {
	r := x.(*record)
	r.index = len(h.items)
	h.items = append(h.items, r)
	h.bySeq[r.Seq] = r
}

func (h *recordHeap) Pop() any {
	old := h.items
	n := len(old)
	r := old[n-1]
	old[n-1] = nil // avoid memory leak
	r.index = -1
	h.items = old[:n-1]
	delete(h.bySeq, r.Seq)
	return r
}

// Deadlines tracks the deadlines of outstanding leases
type Deadlines struct {
	h *recordHeap
}

// NewDeadlines creates an empty deadline store
func NewDeadlines() *Deadlines {
	h := &recordHeap{
		items: make([]*record, 0),
		bySeq: make(map[uint64]*record),
	}
	heap.Init(h)
	return &Deadlines{h: h}
}

// Len returns the number of scheduled deadlines
func (d *Deadlines) Len() int { return d.h.Len() }

// Schedule adds a deadline for seq or moves an existing one
func (d *Deadlines) Schedule(seq uint64, deadline time.Time) {
	if r, ok := d.h.bySeq[seq]; ok {
		r.Deadline = deadline.UnixNano()
		heap.Fix(d.h, r.index)
		return
	}
	heap.Push(d.h, &record{Seq: seq, Deadline: deadline.UnixNano()})
}

// Cancel removes the deadline of seq, it returns false if none was scheduled
func (d *Deadlines) Cancel(seq uint64) bool {
	r, ok := d.h.bySeq[seq]
	if !ok {
		return false
	}
	heap.Remove(d.h, r.index)
	return true
}

// Contains checks if a deadline is scheduled for seq
func (d *Deadlines) Contains(seq uint64) bool {
	_, ok := d.h.bySeq[seq]
	return ok
}

// Next returns the earliest scheduled deadline
func (d *Deadlines) Next() (time.Time, bool) {
	if len(d.h.items) == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, d.h.items[0].Deadline), true
}

// PopDue removes and returns all sequence numbers whose deadline is not after now,
// earliest first
func (d *Deadlines) PopDue(now time.Time) []uint64 {
	var due []uint64
	limit := now.UnixNano()
	for len(d.h.items) > 0 && d.h.items[0].Deadline <= limit {
		r := heap.Pop(d.h).(*record)
		due = append(due, r.Seq)
	}
	return due
}
