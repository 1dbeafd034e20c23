package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// MultiInput fans several input streams into one output. Each added input is
// pumped by its own goroutine; ordering across inputs is arrival order.
//
// Failure isolation is deliberate: an error on one input detaches that input
// and leaves the output readable. The output closes only through an explicit
// [MultiInput.Close].
type MultiInput[T any] struct {
	out *Pipe[T]

	mu     sync.Mutex
	pumps  map[int]context.CancelFunc
	nextID int
	closed bool
	wg     sync.WaitGroup
}

// NewMultiInput returns a MultiInput whose output buffers up to capacity
// items.
func NewMultiInput[T any](capacity int) *MultiInput[T] {
	return &MultiInput[T]{
		out:   NewPipe[T](capacity),
		pumps: make(map[int]context.CancelFunc),
	}
}

// AddInput starts copying src into the shared output and returns an id usable
// with [MultiInput.RemoveInput]. Adding to a closed MultiInput returns -1.
func (m *MultiInput[T]) AddInput(src Reader[T]) int {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return -1
	}
	id := m.nextID
	m.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	m.pumps[id] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.detach(id)
		for {
			v, err := src.Read(ctx)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
					slog.Debug("multi-input: input errored, detaching", "input", id, "err", err)
				}
				return
			}
			if err := m.out.Write(ctx, v); err != nil {
				return
			}
		}
	}()
	return id
}

// RemoveInput detaches the input identified by id, releasing its pump without
// closing the output. Unknown ids are ignored.
func (m *MultiInput[T]) RemoveInput(id int) {
	m.mu.Lock()
	cancel, ok := m.pumps[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Read returns the next item from any input, io.EOF once the MultiInput has
// been closed and drained, or ctx.Err().
func (m *MultiInput[T]) Read(ctx context.Context) (T, error) {
	return m.out.Read(ctx)
}

// Close detaches all inputs and closes the output. Buffered items remain
// readable. Close is idempotent.
func (m *MultiInput[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancels := make([]context.CancelFunc, 0, len(m.pumps))
	for _, c := range m.pumps {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	m.wg.Wait()
	m.out.CloseWrite()
}

func (m *MultiInput[T]) detach(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.pumps[id]; ok {
		cancel()
		delete(m.pumps, id)
	}
}
