package queue

import "time"

// IQueue is a set of named FIFO queues.
//
// Every value pushed to a key is delivered to exactly one Pop call on that key,
// in the order the values were pushed. Implementations must be safe for
// concurrent use.
type IQueue interface {
	// Push appends a value to the queue identified by key.
	Push(key string, value []byte) error

	// Pop removes and returns the oldest value of the queue identified by key.
	// If the queue is empty, Pop blocks for up to timeout waiting for a value.
	// ok is false if no value arrived in time. A timeout <= 0 does not block.
	Pop(key string, timeout time.Duration) (value []byte, ok bool, err error)

	// Len returns the number of values currently waiting in the queue.
	Len(key string) (int, error)

	// Close releases all resources held by the queue.
	Close() error
}
