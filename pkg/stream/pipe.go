package stream

import (
	"context"
	"io"
	"sync"
)

// Pipe is a bounded in-memory channel with a writable and a readable side.
// Writes block when the buffer is full; reads block when it is empty.
// Closing the write side delivers any buffered items and then io.EOF to the
// reader; aborting delivers the abort cause immediately, discarding buffered
// items.
//
// A Pipe expects a single writer and a single reader.
type Pipe[T any] struct {
	ch      chan T
	aborted chan struct{}

	mu       sync.Mutex
	abortErr error
	wClosed  bool
}

// NewPipe returns a Pipe with the given buffer capacity. A capacity of zero
// makes every write rendezvous with a read.
func NewPipe[T any](capacity int) *Pipe[T] {
	return &Pipe[T]{
		ch:      make(chan T, capacity),
		aborted: make(chan struct{}),
	}
}

// Write delivers v to the reader, blocking while the buffer is full. It
// returns [ErrClosed] after CloseWrite, the abort cause after Abort, or
// ctx.Err() on cancellation.
func (p *Pipe[T]) Write(ctx context.Context, v T) error {
	p.mu.Lock()
	if p.wClosed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.abortErr != nil {
		err := p.abortErr
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	select {
	case p.ch <- v:
		return nil
	case <-p.aborted:
		return p.abortCause()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseWrite closes the write side. Buffered items remain readable; once
// drained the reader sees io.EOF. CloseWrite is idempotent and is a no-op on
// an aborted pipe.
func (p *Pipe[T]) CloseWrite() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wClosed || p.abortErr != nil {
		return
	}
	p.wClosed = true
	close(p.ch)
}

// Abort terminates the pipe with cause, waking blocked writers and readers.
// A nil cause is replaced by [ErrAborted]. Only the first abort wins.
func (p *Pipe[T]) Abort(cause error) {
	if cause == nil {
		cause = ErrAborted
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abortErr != nil || p.wClosed {
		// Aborting after a clean close still records the cause so that late
		// readers observe the failure rather than a silent EOF.
		if p.abortErr == nil {
			p.abortErr = cause
			close(p.aborted)
		}
		return
	}
	p.abortErr = cause
	close(p.aborted)
}

// Read returns the next item. It blocks until an item arrives, the write side
// closes (io.EOF), the pipe is aborted (the abort cause), or ctx is
// cancelled.
func (p *Pipe[T]) Read(ctx context.Context) (T, error) {
	var zero T
	// An abort preempts buffered items.
	select {
	case <-p.aborted:
		return zero, p.abortCause()
	default:
	}

	select {
	case v, ok := <-p.ch:
		if !ok {
			if err := p.abortCause(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		}
		return v, nil
	case <-p.aborted:
		return zero, p.abortCause()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *Pipe[T]) abortCause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abortErr
}
