package async

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by [Queue.Get] once the queue is closed and
// drained, and by [Queue.Put] after Close.
var ErrQueueClosed = errors.New("async: queue closed")

// Queue is an unbounded FIFO with a non-blocking Put and a context-aware
// awaitable Get. It is safe for any number of concurrent producers and
// consumers.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{} // closed and re-armed whenever items arrive
	closed bool
}

// NewQueue returns an empty open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{})}
}

// Put appends v to the queue. It never blocks. Returns [ErrQueueClosed] if
// the queue has been closed.
func (q *Queue[T]) Put(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, v)
	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

// Get removes and returns the oldest item, blocking until one is available,
// the queue is closed and empty, or ctx is cancelled.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close closes the queue. Buffered items remain retrievable; once drained,
// Get returns [ErrQueueClosed]. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.wake)
	q.wake = make(chan struct{})
}
