package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTaskCancelled is returned by [Task.Result] when the task's context was
// cancelled before the function returned a value of its own.
var ErrTaskCancelled = errors.New("async: task cancelled")

// Task is a cancellable goroutine with a result. It wraps the common pattern
// of "spawn a goroutine with its own child context, later cancel it and wait
// for it to reach a terminal state".
//
// A Task is in exactly one of three terminal states once finished: completed
// with a value, failed with an error, or cancelled.
type Task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	val T
	err error
}

// Go starts fn on a new goroutine bound to a child context of ctx and returns
// the running task. fn must honour ctx cancellation; a task whose function
// ignores its context cannot be forced to stop.
//
// A panic inside fn is recovered and surfaced as the task error.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.mu.Lock()
				t.err = fmt.Errorf("async: task panic: %v", r)
				t.mu.Unlock()
			}
		}()
		v, err := fn(ctx)
		t.mu.Lock()
		t.val, t.err = v, err
		t.mu.Unlock()
	}()
	return t
}

// Cancel signals the task's context. It does not wait for the task to finish;
// use [Task.Result] or [Task.CancelAndWait] for that.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// Done returns a channel closed when the task has reached a terminal state.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Result blocks until the task finishes or ctx is cancelled, then returns the
// task's value and error. A task that was cancelled before completing returns
// an error satisfying errors.Is(err, context.Canceled) or [ErrTaskCancelled],
// depending on how the function surfaced the cancellation.
func (t *Task[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// CancelAndWait cancels the task and blocks until it reaches a terminal
// state or ctx expires. The task's own error is discarded; only a wait
// failure is returned.
func (t *Task[T]) CancelAndWait(ctx context.Context) error {
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
