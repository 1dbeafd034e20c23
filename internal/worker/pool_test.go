package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/internal/worker"
	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/ipc"
)

// fakeExec is an in-memory job executor. Shutdown and Kill resolve the join
// future so pool watch tasks terminate.
type fakeExec struct {
	initErr   error
	launchErr error

	mu   sync.Mutex
	job  *ipc.RunningJobInfo
	join *async.Future[error]

	killed atomic.Bool
}

func newFakeExec() *fakeExec {
	return &fakeExec{join: async.NewFuture[error]()}
}

func (f *fakeExec) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeExec) LaunchJob(info ipc.RunningJobInfo) error {
	if f.launchErr != nil {
		return f.launchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job = &info
	return nil
}

func (f *fakeExec) RunningJob() *ipc.RunningJobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job
}

func (f *fakeExec) Join() *async.Future[error] { return f.join }

func (f *fakeExec) Shutdown(ctx context.Context, reason string) error {
	f.join.Resolve(nil)
	return nil
}

func (f *fakeExec) Kill() {
	f.killed.Store(true)
	f.join.Resolve(errors.New("killed"))
}

// spawnRecorder hands out fakeExecs and remembers them.
type spawnRecorder struct {
	mu    sync.Mutex
	execs []*fakeExec
	// next, when set, overrides the executor returned by the next spawn.
	next func() (*fakeExec, error)
}

func (s *spawnRecorder) spawn(ctx context.Context) (worker.JobExecutor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next != nil {
		fn := s.next
		s.next = nil
		e, err := fn()
		if err != nil {
			return nil, err
		}
		s.execs = append(s.execs, e)
		return e, nil
	}
	e := newFakeExec()
	s.execs = append(s.execs, e)
	return e, nil
}

func (s *spawnRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.execs)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func jobInfo(id string) ipc.RunningJobInfo {
	return ipc.RunningJobInfo{
		Job:   ipc.JobInfo{ID: id, RoomName: "room-" + id, AgentName: "agent"},
		URL:   "wss://rtc.test",
		Token: "tok",
	}
}

func TestProcPool_WarmReplenishment(t *testing.T) {
	t.Parallel()

	rec := &spawnRecorder{}
	pool := worker.NewProcPool(rec.spawn, worker.PoolOptions{NumIdleProcesses: 2})
	pool.Start()
	defer pool.Close(context.Background())

	waitFor(t, "two warm procs", func() bool { return pool.WarmCount() == 2 })

	// A warm proc must be handed out without any spawn latency.
	start := time.Now()
	exec, err := pool.LaunchJob(context.Background(), jobInfo("job-1"))
	if err != nil {
		t.Fatalf("LaunchJob: %v", err)
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("LaunchJob took %v, want < 100ms", d)
	}
	if job := exec.RunningJob(); job == nil || job.Job.ID != "job-1" {
		t.Errorf("executor job: %+v", exec.RunningJob())
	}

	// Claiming the proc freed its slot, so a replacement warms up.
	waitFor(t, "pool replenished", func() bool { return pool.WarmCount() == 2 })
	if got := rec.count(); got != 3 {
		t.Errorf("spawned executors: want 3, got %d", got)
	}
	if got := pool.GetByJobID("job-1"); got != exec {
		t.Errorf("GetByJobID returned %v", got)
	}
}

func TestProcPool_CrashedWarmProcIsReplaced(t *testing.T) {
	t.Parallel()

	rec := &spawnRecorder{}
	pool := worker.NewProcPool(rec.spawn, worker.PoolOptions{NumIdleProcesses: 1})
	pool.Start()
	defer pool.Close(context.Background())

	waitFor(t, "one warm proc", func() bool { return pool.WarmCount() == 1 })

	rec.mu.Lock()
	first := rec.execs[0]
	rec.mu.Unlock()
	first.join.Resolve(errors.New("child crashed"))

	// The dead proc's slot frees and a fresh one is warmed.
	waitFor(t, "replacement spawned", func() bool { return rec.count() == 2 })

	exec, err := pool.LaunchJob(context.Background(), jobInfo("job-2"))
	if err != nil {
		t.Fatalf("LaunchJob: %v", err)
	}
	if got, _ := exec.(*fakeExec); got == first {
		t.Error("LaunchJob handed out the crashed executor")
	}
}

func TestProcPool_InitFailureRetries(t *testing.T) {
	t.Parallel()

	rec := &spawnRecorder{}
	rec.next = func() (*fakeExec, error) {
		e := newFakeExec()
		e.initErr = errors.New("model load failed")
		return e, nil
	}
	pool := worker.NewProcPool(rec.spawn, worker.PoolOptions{
		NumIdleProcesses:   1,
		SpawnRetryInterval: 5 * time.Millisecond,
	})
	pool.Start()
	defer pool.Close(context.Background())

	waitFor(t, "warm proc after failed init", func() bool { return pool.WarmCount() == 1 })
	if got := rec.count(); got != 2 {
		t.Errorf("spawned executors: want 2, got %d", got)
	}
	rec.mu.Lock()
	failed := rec.execs[0]
	rec.mu.Unlock()
	if !failed.killed.Load() {
		t.Error("executor with failed init was not killed")
	}
}

func TestProcPool_LaunchAfterClose(t *testing.T) {
	t.Parallel()

	rec := &spawnRecorder{}
	pool := worker.NewProcPool(rec.spawn, worker.PoolOptions{NumIdleProcesses: 1})
	pool.Start()
	waitFor(t, "warm proc", func() bool { return pool.WarmCount() == 1 })

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Warm procs left in the queue are still handed out after close; once
	// drained, LaunchJob reports the closed pool.
	for {
		_, err := pool.LaunchJob(context.Background(), jobInfo("late"))
		if err == nil {
			continue
		}
		if !errors.Is(err, worker.ErrPoolClosed) {
			t.Fatalf("LaunchJob after close: want ErrPoolClosed, got %v", err)
		}
		break
	}
}
