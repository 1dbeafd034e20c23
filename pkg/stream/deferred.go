package stream

import (
	"context"
	"sync"
)

// Deferred is a Reader whose underlying source is supplied after construction
// via [Deferred.SetSource]. Reads issued before a source arrives park until
// one is set. Supplying a second source is an error.
type Deferred[T any] struct {
	mu     sync.Mutex
	src    Reader[T]
	ready  chan struct{}
	closed bool
}

// NewDeferred returns a Deferred with no source.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{ready: make(chan struct{})}
}

// SetSource supplies the stream that parked and future reads will consume.
// Returns [ErrSourceAlreadySet] if called more than once.
func (d *Deferred[T]) SetSource(src Reader[T]) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src != nil {
		return ErrSourceAlreadySet
	}
	d.src = src
	close(d.ready)
	return nil
}

// Read blocks until a source has been set, then delegates to it.
func (d *Deferred[T]) Read(ctx context.Context) (T, error) {
	select {
	case <-d.ready:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	d.mu.Lock()
	src := d.src
	d.mu.Unlock()
	return src.Read(ctx)
}
