package ingest

import (
	"context"
)

// WorkQueue is a bounded, multi-producer/multi-consumer buffer.  Put blocks while the queue is full and Get blocks
// while it is empty, which makes the queue the only backpressure point between producers and consumers.
type WorkQueue[T any] struct {
	items chan T
}

func NewWorkQueue[T any](capacity int) *WorkQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &WorkQueue[T]{
		items: make(chan T, capacity),
	}
}

// Put adds item to the queue, blocking until there is space or ctx is done
func (q *WorkQueue[T]) Put(ctx context.Context, item T) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes the oldest item from the queue, blocking until one is available or ctx is done
func (q *WorkQueue[T]) Get(ctx context.Context) (T, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (q *WorkQueue[T]) Len() int {
	return len(q.items)
}

func (q *WorkQueue[T]) Cap() int {
	return cap(q.items)
}

func (q *WorkQueue[T]) Empty() bool {
	return len(q.items) == 0
}
