// Package bridge carries values from any goroutine to the single goroutine
// that drains them.
package bridge

import "sync"

// Queue is an unbounded multi-producer single-consumer FIFO. Push never
// blocks; Ready signals the consumer that Drain has something to return.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends v and wakes the consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns everything queued so far, in push order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready fires at least once after any Push. A receive does not guarantee
// the queue is still non-empty.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}
