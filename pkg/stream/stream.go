// Package stream provides the lazy streaming primitives used by every
// producer/consumer pipeline in the Cadenza runtime: an in-memory pipe with
// backpressure, a deferred stream whose source arrives later, a multi-input
// fan-in, a thin write/close channel wrapper, and a merge stream that allows
// inline injection.
//
// All streams yield a lazy, finite, non-restartable sequence of items. A
// clean end-of-stream is reported as io.EOF; an aborted stream reports the
// abort cause (wrapped in [ErrAborted] when none was given). Closure is
// cooperative: producers close their side, consumers drain until EOF.
package stream

import (
	"context"
	"errors"
	"io"
)

// ErrAborted is the default abort cause when a stream is aborted without an
// explicit error.
var ErrAborted = errors.New("stream: aborted")

// ErrClosed is returned by writes to a stream whose write side has been
// closed.
var ErrClosed = errors.New("stream: closed")

// ErrSourceAlreadySet is returned by [Deferred.SetSource] when a source has
// already been supplied.
var ErrSourceAlreadySet = errors.New("stream: source already set")

// Reader is the consumer side of a stream. Read blocks until an item is
// available, the stream ends (io.EOF), the stream is aborted (the abort
// cause), or ctx is cancelled (ctx.Err()).
//
// A Reader is single-consumer: concurrent Read calls on the same Reader have
// unspecified ordering.
type Reader[T any] interface {
	Read(ctx context.Context) (T, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc[T any] func(ctx context.Context) (T, error)

// Read calls f.
func (f ReaderFunc[T]) Read(ctx context.Context) (T, error) { return f(ctx) }

// FromSlice returns a Reader that yields the elements of items in order and
// then io.EOF. Useful in tests and for replaying buffered data.
func FromSlice[T any](items []T) Reader[T] {
	i := 0
	return ReaderFunc[T](func(ctx context.Context) (T, error) {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		if i >= len(items) {
			var zero T
			return zero, io.EOF
		}
		v := items[i]
		i++
		return v, nil
	})
}

// Collect drains r until io.EOF, returning all items read. Any other error is
// returned alongside the items read so far.
func Collect[T any](ctx context.Context, r Reader[T]) ([]T, error) {
	var out []T
	for {
		v, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
