package ipc_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/pkg/ipc"
)

// pipePair wires a parent and child Conn together in memory.
func pipePair() (parent, child *ipc.Conn) {
	toChildR, toChildW := io.Pipe()
	toParentR, toParentW := io.Pipe()
	return ipc.NewConn(toParentR, toChildW), ipc.NewConn(toChildR, toParentW)
}

// fakeProcess stands in for the forked OS process.
type fakeProcess struct {
	once   sync.Once
	exited chan struct{}
	err    error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exited: make(chan struct{})}
}

func (f *fakeProcess) exit(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.exited)
	})
}

func (f *fakeProcess) Kill() error {
	f.exit(errors.New("killed"))
	return nil
}

func (f *fakeProcess) Wait() error {
	<-f.exited
	return f.err
}

func TestConn_RoundTrip(t *testing.T) {
	t.Parallel()

	parent, child := pipePair()

	go func() {
		_ = parent.Write(ipc.StartJobRequest{RunningJob: ipc.RunningJobInfo{
			Job: ipc.JobInfo{ID: "job-1", RoomName: "room-a"},
			URL: "wss://example.test", Token: "jwt",
		}})
	}()

	msg, err := child.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	req, ok := msg.(ipc.StartJobRequest)
	if !ok {
		t.Fatalf("decoded type: %T", msg)
	}
	if req.RunningJob.Job.ID != "job-1" || req.RunningJob.Token != "jwt" {
		t.Errorf("payload mangled: %+v", req.RunningJob)
	}
}

func TestProc_HandshakeJobAndShutdown(t *testing.T) {
	t.Parallel()

	parentConn, childConn := pipePair()
	fp := newFakeProcess()

	jobStarted := make(chan ipc.RunningJobInfo, 1)
	runner := ipc.NewRunner(childConn, ipc.RunnerOptions{
		JobHandler: func(ctx context.Context, job ipc.RunningJobInfo) error {
			jobStarted <- job
			<-ctx.Done()
			return ctx.Err()
		},
		InferenceHandlers: map[string]ipc.InferenceHandler{
			"echo": func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
				return data, nil
			},
		},
	})
	go func() {
		_ = runner.Run(context.Background())
		fp.exit(nil)
	}()

	proc := ipc.Supervise(parentConn, fp, ipc.ProcOptions{
		PingInterval: 10 * time.Millisecond,
		PingTimeout:  time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := proc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// ─── job assignment ───

	info := ipc.RunningJobInfo{Job: ipc.JobInfo{ID: "job-7"}, URL: "wss://x", Token: "t"}
	if err := proc.LaunchJob(info); err != nil {
		t.Fatalf("LaunchJob: %v", err)
	}
	select {
	case got := <-jobStarted:
		if got.Job.ID != "job-7" {
			t.Errorf("child job id: %q", got.Job.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("job never reached the child")
	}
	if proc.RunningJob() == nil || proc.RunningJob().Job.ID != "job-7" {
		t.Error("RunningJob not recorded on the parent")
	}

	// ─── inference round trip ───

	out, err := proc.RunInference(ctx, "echo", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("RunInference: %v", err)
	}
	if string(out) != `{"x":1}` {
		t.Errorf("inference echo: %s", out)
	}
	if _, err := proc.RunInference(ctx, "nope", nil); err == nil {
		t.Error("unknown inference method: want error")
	}

	// ─── graceful shutdown ───

	if err := proc.Shutdown(ctx, "test over"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	res, err := proc.Join().Wait(ctx)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if res != nil {
		t.Errorf("join outcome: want clean exit, got %v", res)
	}
}

func TestProc_BadHandshakeIsFatal(t *testing.T) {
	t.Parallel()

	parentConn, childConn := pipePair()
	fp := newFakeProcess()

	go func() {
		// Violate the protocol: first message is not initializeResponse.
		if _, err := childConn.Read(); err != nil {
			return
		}
		_ = childConn.Write(ipc.Exiting{Reason: "confused"})
	}()

	proc := ipc.Supervise(parentConn, fp, ipc.ProcOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := proc.Initialize(ctx); !errors.Is(err, ipc.ErrBadHandshake) {
		t.Fatalf("Initialize: want ErrBadHandshake, got %v", err)
	}
	select {
	case <-fp.exited:
	case <-time.After(time.Second):
		t.Fatal("child not killed after bad handshake")
	}
}

func TestProc_PingWatchdogKillsSilentChild(t *testing.T) {
	t.Parallel()

	parentConn, childConn := pipePair()
	fp := newFakeProcess()

	// Child that completes the handshake, then goes silent: it keeps
	// reading so the parent's writes do not block, but never pongs.
	go func() {
		if _, err := childConn.Read(); err != nil {
			return
		}
		_ = childConn.Write(ipc.InitializeResponse{})
		for {
			if _, err := childConn.Read(); err != nil {
				return
			}
		}
	}()

	proc := ipc.Supervise(parentConn, fp, ipc.ProcOptions{
		PingInterval: 10 * time.Millisecond,
		PingTimeout:  60 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := proc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	res, err := proc.Join().Wait(ctx)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !errors.Is(res, ipc.ErrWatchdogFired) {
		t.Errorf("join outcome: want ErrWatchdogFired, got %v", res)
	}
	select {
	case <-fp.exited:
	case <-time.After(time.Second):
		t.Fatal("child not killed after watchdog fired")
	}
}

func TestProc_InitializeTimeout(t *testing.T) {
	t.Parallel()

	parentConn, childConn := pipePair()
	fp := newFakeProcess()

	// Child reads the initialize request but never answers.
	go func() {
		_, _ = childConn.Read()
	}()

	proc := ipc.Supervise(parentConn, fp, ipc.ProcOptions{
		InitializeTimeout: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := proc.Initialize(ctx); !errors.Is(err, ipc.ErrInitializeTimeout) {
		t.Fatalf("Initialize: want ErrInitializeTimeout, got %v", err)
	}
}
