package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Injectable merges a source stream with an inline channel of injected items.
// The relative order of source items is preserved; injected items interleave
// at arrival order, letting a consumer splice pre-rendered items into a live
// stream.
type Injectable[T any] struct {
	out    *Pipe[T]
	inject *Pipe[T]

	mu       sync.Mutex
	closed   bool
	srcDone  bool
	injDone  bool
	closeSig chan struct{}
}

// NewInjectable returns an Injectable reading from src. The output closes
// once both the source and the injection side have ended.
func NewInjectable[T any](src Reader[T], capacity int) *Injectable[T] {
	inj := &Injectable[T]{
		out:      NewPipe[T](capacity),
		inject:   NewPipe[T](capacity),
		closeSig: make(chan struct{}),
	}
	go inj.pump(src, func(i *Injectable[T]) { i.srcDone = true })
	go inj.pumpInject()
	return inj
}

// Inject splices v into the merged output. Injection after CloseInject or
// Cancel returns an error.
func (i *Injectable[T]) Inject(ctx context.Context, v T) error {
	return i.inject.Write(ctx, v)
}

// CloseInject ends the injection side. The merged output then closes when the
// source ends.
func (i *Injectable[T]) CloseInject() {
	i.inject.CloseWrite()
}

// Cancel aborts both the merged output and the injection channel with reason.
func (i *Injectable[T]) Cancel(reason error) {
	if reason == nil {
		reason = ErrAborted
	}
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.closeSig)
	i.mu.Unlock()

	i.inject.Abort(reason)
	i.out.Abort(reason)
}

// Read returns the next merged item, io.EOF once both sides have ended, or
// the cancel reason.
func (i *Injectable[T]) Read(ctx context.Context) (T, error) {
	return i.out.Read(ctx)
}

// pump copies src into the merged output until it ends or the Injectable is
// cancelled, then marks its side done.
func (i *Injectable[T]) pump(src Reader[T], markDone func(*Injectable[T])) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pumpDone := make(chan struct{})
	defer close(pumpDone)
	go func() {
		select {
		case <-i.closeSig:
			cancel()
		case <-pumpDone:
		}
	}()

	for {
		v, err := src.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				i.Cancel(err)
				return
			}
			break
		}
		if err := i.out.Write(ctx, v); err != nil {
			return
		}
	}

	i.mu.Lock()
	markDone(i)
	done := i.srcDone && i.injDone
	i.mu.Unlock()
	if done {
		i.out.CloseWrite()
	}
}

func (i *Injectable[T]) pumpInject() {
	i.pump(i.inject, func(in *Injectable[T]) { in.injDone = true })
}
