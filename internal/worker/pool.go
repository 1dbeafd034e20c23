// Package worker runs the agent worker: it keeps a pool of warm job
// processes and serves job assignments from a dispatch server.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/ipc"
)

// ErrPoolClosed is returned by LaunchJob after Close.
var ErrPoolClosed = errors.New("worker: proc pool is closed")

// JobExecutor is the slice of [ipc.Proc] the pool needs. It exists so tests
// can run the pool against in-memory executors.
type JobExecutor interface {
	Initialize(ctx context.Context) error
	LaunchJob(info ipc.RunningJobInfo) error
	RunningJob() *ipc.RunningJobInfo
	Join() *async.Future[error]
	Shutdown(ctx context.Context, reason string) error
	Kill()
}

var _ JobExecutor = (*ipc.Proc)(nil)

// Spawner starts one uninitialized job executor.
type Spawner func(ctx context.Context) (JobExecutor, error)

// PoolOptions tunes a ProcPool.
type PoolOptions struct {
	// NumIdleProcesses is how many initialized children the pool keeps
	// warm. Default 1.
	NumIdleProcesses int

	// SpawnRetryInterval is the pause before retrying after a failed
	// spawn or initialization. Default 1s.
	SpawnRetryInterval time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.NumIdleProcesses <= 0 {
		o.NumIdleProcesses = 1
	}
	if o.SpawnRetryInterval <= 0 {
		o.SpawnRetryInterval = time.Second
	}
	return o
}

// warmProc pairs an executor with its warm-slot accounting. The slot is
// released exactly once, either when a job claims the proc or when the proc
// dies while still warm.
type warmProc struct {
	exec     JobExecutor
	released atomic.Bool
	dead     atomic.Bool
}

// ProcPool keeps NumIdleProcesses initialized children ready so a job
// assignment never waits on process startup. Claiming a warm proc frees its
// slot, which makes the replenisher spawn a replacement; a proc that crashes
// while warm frees its slot the same way.
type ProcPool struct {
	spawn  Spawner
	opts   PoolOptions
	warmed *async.Queue[*warmProc]

	// procSem caps the number of warm (spawned but unassigned) procs.
	procSem *async.Semaphore
	// initMu serializes child initialization so concurrent cold starts do
	// not stampede the host.
	initMu sync.Mutex

	mu    sync.Mutex
	procs map[JobExecutor]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewProcPool returns a stopped pool. Call Start to begin warming.
func NewProcPool(spawn Spawner, opts PoolOptions) *ProcPool {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcPool{
		spawn:   spawn,
		opts:    opts,
		warmed:  async.NewQueue[*warmProc](),
		procSem: async.NewSemaphore(int64(opts.NumIdleProcesses)),
		procs:   make(map[JobExecutor]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the replenisher loop.
func (p *ProcPool) Start() {
	p.wg.Add(1)
	go p.replenishLoop()
}

// replenishLoop acquires a warm slot and spawns a watch task for it, over
// and over. It blocks while all slots are taken.
func (p *ProcPool) replenishLoop() {
	defer p.wg.Done()
	for {
		if err := p.procSem.Acquire(p.ctx); err != nil {
			return
		}
		p.wg.Add(1)
		go p.procWatchTask()
	}
}

// procWatchTask owns one warm slot: it spawns and initializes an executor,
// queues it as warm, then waits for the executor to exit and cleans up. The
// slot is released on init failure, on claim, or on death while warm.
func (p *ProcPool) procWatchTask() {
	defer p.wg.Done()

	p.initMu.Lock()
	exec, err := p.spawn(p.ctx)
	if err == nil {
		err = exec.Initialize(p.ctx)
		if err != nil {
			exec.Kill()
		}
	}
	p.initMu.Unlock()
	if err != nil {
		if p.ctx.Err() == nil {
			slog.Error("proc pool: warm start failed", "error", err)
			p.pause()
		}
		p.procSem.Release()
		return
	}

	w := &warmProc{exec: exec}
	p.mu.Lock()
	p.procs[exec] = struct{}{}
	p.mu.Unlock()
	if err := p.warmed.Put(w); err != nil {
		// Pool closed while initializing.
		_ = exec.Shutdown(context.Background(), "pool closed")
		p.mu.Lock()
		delete(p.procs, exec)
		p.mu.Unlock()
		p.procSem.Release()
		return
	}

	exitErr, _ := exec.Join().Wait(context.Background())
	p.mu.Lock()
	delete(p.procs, exec)
	p.mu.Unlock()
	if exitErr != nil && p.ctx.Err() == nil {
		slog.Warn("proc pool: child exited", "error", exitErr, "had_job", exec.RunningJob() != nil)
	}
	w.dead.Store(true)
	if w.released.CompareAndSwap(false, true) {
		// Died while still warm; free the slot so a replacement spawns.
		p.procSem.Release()
	}
}

func (p *ProcPool) pause() {
	t := time.NewTimer(p.opts.SpawnRetryInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.ctx.Done():
	}
}

// LaunchJob claims a warm executor, assigns the job to it, and frees the
// warm slot so the pool starts a replacement. It blocks until an executor is
// available or ctx expires.
func (p *ProcPool) LaunchJob(ctx context.Context, info ipc.RunningJobInfo) (JobExecutor, error) {
	for {
		w, err := p.warmed.Get(ctx)
		if errors.Is(err, async.ErrQueueClosed) {
			return nil, ErrPoolClosed
		}
		if err != nil {
			return nil, err
		}
		if !w.released.CompareAndSwap(false, true) {
			// Died while queued; its slot is already free.
			continue
		}
		p.procSem.Release()
		if w.dead.Load() {
			continue
		}
		if err := w.exec.LaunchJob(info); err != nil {
			slog.Warn("proc pool: launch on warm proc failed", "job_id", info.Job.ID, "error", err)
			w.exec.Kill()
			continue
		}
		return w.exec, nil
	}
}

// Processes returns every live executor, warm and active.
func (p *ProcPool) Processes() []JobExecutor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]JobExecutor, 0, len(p.procs))
	for exec := range p.procs {
		out = append(out, exec)
	}
	return out
}

// GetByJobID returns the executor running the given job, or nil.
func (p *ProcPool) GetByJobID(id string) JobExecutor {
	p.mu.Lock()
	defer p.mu.Unlock()
	for exec := range p.procs {
		if job := exec.RunningJob(); job != nil && job.Job.ID == id {
			return exec
		}
	}
	return nil
}

// WarmCount returns how many initialized executors are queued unassigned.
func (p *ProcPool) WarmCount() int { return p.warmed.Len() }

// Close stops replenishing, shuts every executor down, and waits for all
// watch tasks. Idempotent.
func (p *ProcPool) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		p.warmed.Close()

		p.mu.Lock()
		procs := make([]JobExecutor, 0, len(p.procs))
		for exec := range p.procs {
			procs = append(procs, exec)
		}
		p.mu.Unlock()

		var wg sync.WaitGroup
		for _, exec := range procs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if serr := exec.Shutdown(ctx, "worker closing"); serr != nil {
					slog.Warn("proc pool: shutdown failed", "error", serr)
				}
			}()
		}
		wg.Wait()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("worker: pool close: %w", ctx.Err())
		}
	})
	return err
}
