package stream

import (
	"context"
	"sync"
)

// Channel is a thin write/close/stream wrapper over a [Pipe]. It is the
// producer-facing shape handed to code that only needs to emit items and
// signal completion.
type Channel[T any] struct {
	pipe *Pipe[T]
	once sync.Once
}

// NewChannel returns a Channel buffering up to capacity items.
func NewChannel[T any](capacity int) *Channel[T] {
	return &Channel[T]{pipe: NewPipe[T](capacity)}
}

// Write emits v to the consumer. Writes after Close return [ErrClosed].
func (c *Channel[T]) Write(ctx context.Context, v T) error {
	return c.pipe.Write(ctx, v)
}

// Close ends the stream. Buffered items remain readable; Close is idempotent.
func (c *Channel[T]) Close() {
	c.once.Do(c.pipe.CloseWrite)
}

// Abort terminates the stream with cause, discarding buffered items.
func (c *Channel[T]) Abort(cause error) {
	c.pipe.Abort(cause)
}

// Reader returns the consumer side of the channel.
func (c *Channel[T]) Reader() Reader[T] {
	return c.pipe
}
