package stream_test

import (
	"context"
	"errors"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/pkg/stream"
)

// ─── Pipe ────────────────────────────────────────────────────────────────────

func TestPipe_WriteReadOrdered(t *testing.T) {
	t.Parallel()

	p := stream.NewPipe[int](4)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := p.Write(ctx, i); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}
	p.CloseWrite()

	got, err := stream.Collect(ctx, p)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d: want %d, got %d", i, i, v)
		}
	}
}

func TestPipe_WriteBlocksWhenFull(t *testing.T) {
	t.Parallel()

	p := stream.NewPipe[int](1)
	ctx := context.Background()
	if err := p.Write(ctx, 1); err != nil {
		t.Fatalf("Write: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- p.Write(ctx, 2)
	}()

	select {
	case err := <-blocked:
		t.Fatalf("Write returned early with %v; want blocking on full buffer", err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := p.Read(ctx); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := <-blocked; err != nil {
		t.Fatalf("blocked Write: %v", err)
	}
}

func TestPipe_WriteAfterCloseFails(t *testing.T) {
	t.Parallel()

	p := stream.NewPipe[string](1)
	p.CloseWrite()
	p.CloseWrite() // idempotent
	if err := p.Write(context.Background(), "late"); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("Write after close: want ErrClosed, got %v", err)
	}
}

func TestPipe_AbortPropagatesToBothSides(t *testing.T) {
	t.Parallel()

	p := stream.NewPipe[int](0)
	cause := errors.New("upstream exploded")

	readErr := make(chan error, 1)
	go func() {
		_, err := p.Read(context.Background())
		readErr <- err
	}()

	p.Abort(cause)
	if err := <-readErr; !errors.Is(err, cause) {
		t.Errorf("Read after abort: want cause, got %v", err)
	}
	if err := p.Write(context.Background(), 1); !errors.Is(err, cause) {
		t.Errorf("Write after abort: want cause, got %v", err)
	}
}

func TestPipe_AbortNilUsesErrAborted(t *testing.T) {
	t.Parallel()

	p := stream.NewPipe[int](0)
	p.Abort(nil)
	if _, err := p.Read(context.Background()); !errors.Is(err, stream.ErrAborted) {
		t.Errorf("Read: want ErrAborted, got %v", err)
	}
}

// ─── Deferred ────────────────────────────────────────────────────────────────

func TestDeferred_ReadsParkUntilSourceSet(t *testing.T) {
	t.Parallel()

	d := stream.NewDeferred[int]()
	got := make(chan int, 1)
	go func() {
		v, err := d.Read(context.Background())
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	if err := d.SetSource(stream.FromSlice([]int{9})); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	select {
	case v := <-got:
		if v != 9 {
			t.Errorf("Read: want 9, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("parked Read never woke")
	}
}

func TestDeferred_SecondSourceIsError(t *testing.T) {
	t.Parallel()

	d := stream.NewDeferred[int]()
	if err := d.SetSource(stream.FromSlice([]int{1})); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if err := d.SetSource(stream.FromSlice([]int{2})); !errors.Is(err, stream.ErrSourceAlreadySet) {
		t.Errorf("second SetSource: want ErrSourceAlreadySet, got %v", err)
	}
}

// ─── MultiInput ──────────────────────────────────────────────────────────────

func TestMultiInput_MergesInputs(t *testing.T) {
	t.Parallel()

	m := stream.NewMultiInput[int](16)
	m.AddInput(stream.FromSlice([]int{1, 2}))
	m.AddInput(stream.FromSlice([]int{3, 4}))

	seen := make(map[int]bool)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		v, err := m.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		seen[v] = true
	}
	for _, want := range []int{1, 2, 3, 4} {
		if !seen[want] {
			t.Errorf("missing item %d", want)
		}
	}
	m.Close()
	if _, err := m.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Read after close: want io.EOF, got %v", err)
	}
}

func TestMultiInput_InputErrorDoesNotErrorOutput(t *testing.T) {
	t.Parallel()

	m := stream.NewMultiInput[int](16)
	failing := stream.ReaderFunc[int](func(ctx context.Context) (int, error) {
		return 0, errors.New("bad input")
	})
	m.AddInput(failing)
	m.AddInput(stream.FromSlice([]int{42}))

	v, err := m.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: output errored after one input failed: %v", err)
	}
	if v != 42 {
		t.Errorf("Read: want 42, got %d", v)
	}

	// Output must stay open until Close is called.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Read on open output: want deadline exceeded, got %v", err)
	}

	m.Close()
	m.Close() // idempotent
}

func TestMultiInput_RemoveInputDetachesOne(t *testing.T) {
	t.Parallel()

	m := stream.NewMultiInput[int](16)
	blocked := stream.ReaderFunc[int](func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	id := m.AddInput(blocked)
	m.AddInput(stream.FromSlice([]int{7}))
	m.RemoveInput(id)

	v, err := m.Read(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("Read: want (7, nil), got (%d, %v)", v, err)
	}
	m.Close()
}

// ─── Channel ─────────────────────────────────────────────────────────────────

func TestChannel_CloseIdempotentAndWriteFails(t *testing.T) {
	t.Parallel()

	c := stream.NewChannel[string](2)
	ctx := context.Background()
	if err := c.Write(ctx, "a"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c.Close()
	c.Close()

	if err := c.Write(ctx, "b"); !errors.Is(err, stream.ErrClosed) {
		t.Errorf("Write after Close: want ErrClosed, got %v", err)
	}

	got, err := stream.Collect(ctx, c.Reader())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Collect: want [a], got %v", got)
	}
}

// ─── Injectable ──────────────────────────────────────────────────────────────

func TestInjectable_MergesSourceAndInjected(t *testing.T) {
	t.Parallel()

	src := stream.NewPipe[string](4)
	inj := stream.NewInjectable[string](src, 8)
	ctx := context.Background()

	if err := src.Write(ctx, "from-source"); err != nil {
		t.Fatalf("source Write: %v", err)
	}
	if err := inj.Inject(ctx, "injected"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	src.CloseWrite()
	inj.CloseInject()

	got, err := stream.Collect(ctx, inj)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	seen := map[string]bool{}
	for _, v := range got {
		seen[v] = true
	}
	if !seen["from-source"] || !seen["injected"] {
		t.Errorf("merged output missing items: %v", got)
	}
}

func TestInjectable_CancelAbortsBothSides(t *testing.T) {
	t.Parallel()

	src := stream.NewPipe[string](1)
	inj := stream.NewInjectable[string](src, 1)
	cause := errors.New("interrupted")
	inj.Cancel(cause)
	inj.Cancel(cause) // idempotent

	if err := inj.Inject(context.Background(), "late"); !errors.Is(err, cause) {
		t.Errorf("Inject after Cancel: want cause, got %v", err)
	}
	if _, err := inj.Read(context.Background()); !errors.Is(err, cause) {
		t.Errorf("Read after Cancel: want cause, got %v", err)
	}
}

func TestInjectable_ReleasesPumpsOnCompletion(t *testing.T) {
	baseline := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		inj := stream.NewInjectable[int](stream.FromSlice([]int{1, 2}), 4)
		inj.CloseInject()
		ctx := context.Background()
		for {
			if _, err := inj.Read(ctx); err != nil {
				if !errors.Is(err, io.EOF) {
					t.Fatalf("Read: %v", err)
				}
				break
			}
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("goroutines: %d at start, %d after completed merges", baseline, runtime.NumGoroutine())
}
