package async

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Mutex is a context-aware mutual exclusion lock with FIFO fairness.
// Waiters acquire the lock in arrival order, which keeps drain and shutdown
// paths from being starved by hot loops.
//
// It is a thin wrapper over a weighted semaphore of size one; the x/sync
// implementation queues waiters in FIFO order.
type Mutex struct {
	sem *semaphore.Weighted
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: semaphore.NewWeighted(1)}
}

// Lock acquires the mutex, blocking until it is available or ctx is
// cancelled. On success it returns the unlock closure; the caller must invoke
// it exactly once, typically via defer.
func (m *Mutex) Lock(ctx context.Context) (unlock func(), err error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { m.sem.Release(1) }, nil
}

// TryLock acquires the mutex without blocking. It returns the unlock closure
// and true on success, or nil and false if the mutex is held.
func (m *Mutex) TryLock() (unlock func(), ok bool) {
	if !m.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { m.sem.Release(1) }, true
}

// Semaphore is a counting semaphore with context-aware acquisition and FIFO
// waiter ordering. Used by the process pool to cap the number of concurrently
// warm child processes.
type Semaphore struct {
	sem *semaphore.Weighted
}

// NewSemaphore returns a semaphore with n permits.
func NewSemaphore(n int64) *Semaphore {
	return &Semaphore{sem: semaphore.NewWeighted(n)}
}

// Acquire takes one permit, blocking until one is available or ctx is
// cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// TryAcquire takes one permit without blocking, reporting whether it
// succeeded.
func (s *Semaphore) TryAcquire() bool {
	return s.sem.TryAcquire(1)
}

// Release returns one permit.
func (s *Semaphore) Release() {
	s.sem.Release(1)
}
