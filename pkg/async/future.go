// Package async provides the small concurrency vocabulary shared by the
// Cadenza runtime: one-shot futures, cancellable tasks, FIFO locks, awaitable
// queues, retry backoff math, and short random identifiers.
//
// Everything in this package is context-aware. Blocking operations take a
// context.Context and return promptly when it is cancelled; nothing here
// spins or polls.
package async

import (
	"context"
	"sync"
)

// Future is a one-shot value cell. It starts empty, is resolved (or rejected)
// exactly once, and can be awaited by any number of goroutines. Resolving or
// rejecting an already-settled Future is a no-op, which makes futures safe to
// settle from racing completion paths.
type Future[T any] struct {
	mu   sync.Mutex
	done chan struct{}
	val  T
	err  error
}

// NewFuture returns an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with v. Only the first Resolve or Reject wins;
// later calls are ignored.
func (f *Future[T]) Resolve(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.val = v
	close(f.done)
}

// Reject settles the future with err. Only the first Resolve or Reject wins;
// later calls are ignored.
func (f *Future[T]) Reject(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	f.err = err
	close(f.done)
}

// Done returns a channel that is closed once the future is settled.
// Useful in select statements alongside other cancellation signals.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsSettled reports whether the future has been resolved or rejected.
func (f *Future[T]) IsSettled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future is settled or ctx is cancelled. It returns the
// resolved value, the rejection error, or ctx.Err().
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// MustValue returns the resolved value without blocking. It must only be
// called after the future is settled; calling it earlier returns the zero
// value.
func (f *Future[T]) MustValue() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val
}

// Err returns the rejection error, or nil if the future resolved cleanly or
// is still pending.
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
