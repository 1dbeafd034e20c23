package tts_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/pkg/provider"
	"github.com/MrWong99/cadenza/pkg/provider/tts"
	ttsmock "github.com/MrWong99/cadenza/pkg/provider/tts/mock"
)

func drainAudio(t *testing.T, s *tts.AudioStream) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var n int
	for {
		_, err := s.Read(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func TestFallback_UsesFirstHealthyProvider(t *testing.T) {
	t.Parallel()

	a := &ttsmock.TTS{Name: "A"}
	b := &ttsmock.TTS{Name: "B"}

	f, err := tts.NewFallbackAdapter([]tts.TTS{a, b}, tts.FallbackOptions{})
	if err != nil {
		t.Fatalf("NewFallbackAdapter: %v", err)
	}
	defer f.Close()

	s, err := f.Synthesize(context.Background(), "hello", tts.SynthesizeOptions{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if n, err := drainAudio(t, s); err != nil || n != 1 {
		t.Fatalf("drain: %d chunks, err %v; want 1 chunk", n, err)
	}
	if b.SynthesizeCallCount() != 0 {
		t.Errorf("provider B called %d times; want 0", b.SynthesizeCallCount())
	}
}

func TestFallback_AdvancesOnFailureAndEmitsAvailability(t *testing.T) {
	t.Parallel()

	a := &ttsmock.TTS{Name: "A", Err: provider.NewStatusError("quota exceeded", 429)}
	b := &ttsmock.TTS{Name: "B"}

	f, err := tts.NewFallbackAdapter([]tts.TTS{a, b}, tts.FallbackOptions{
		MaxRetryPerProvider: 1,
		RetryInterval:       time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewFallbackAdapter: %v", err)
	}
	defer f.Close()

	s, _ := f.Synthesize(context.Background(), "hello", tts.SynthesizeOptions{})
	if _, err := drainAudio(t, s); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if b.SynthesizeCallCount() != 1 {
		t.Errorf("provider B called %d times; want 1", b.SynthesizeCallCount())
	}

	select {
	case ev := <-f.AvailabilityChanged():
		if ev.Provider != "A" || ev.Available {
			t.Errorf("availability event: want {A false}, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no availability event emitted")
	}
}

func TestFallback_RecoveryProbeFlipsBack(t *testing.T) {
	t.Parallel()

	a := &ttsmock.TTS{Name: "A", Err: provider.NewStatusError("unavailable", 503)}
	b := &ttsmock.TTS{Name: "B"}

	f, err := tts.NewFallbackAdapter([]tts.TTS{a, b}, tts.FallbackOptions{
		MaxRetryPerProvider: 1,
		RetryInterval:       5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewFallbackAdapter: %v", err)
	}
	defer f.Close()

	s, _ := f.Synthesize(context.Background(), "hello", tts.SynthesizeOptions{})
	if _, err := drainAudio(t, s); err != nil {
		t.Fatalf("drain: %v", err)
	}

	ev := <-f.AvailabilityChanged()
	if ev.Available {
		t.Fatalf("first event: want unavailable, got %+v", ev)
	}

	a.SetErr(nil)

	select {
	case ev := <-f.AvailabilityChanged():
		if ev.Provider != "A" || !ev.Available {
			t.Errorf("recovery event: want {A true}, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("provider A never recovered")
	}
}

func TestFallback_ErrorAfterChunkDoesNotSwitchByDefault(t *testing.T) {
	t.Parallel()

	a := &ttsmock.TTS{
		Name:      "A",
		Chunks:    []tts.SynthesizedAudio{{Frame: ttsmock.DefaultFrame()}},
		StreamErr: provider.NewStatusError("mid-stream", 500),
	}
	b := &ttsmock.TTS{Name: "B"}

	f, err := tts.NewFallbackAdapter([]tts.TTS{a, b}, tts.FallbackOptions{})
	if err != nil {
		t.Fatalf("NewFallbackAdapter: %v", err)
	}
	defer f.Close()

	s, _ := f.Synthesize(context.Background(), "hello", tts.SynthesizeOptions{})
	n, err := drainAudio(t, s)
	if err == nil {
		t.Fatal("drain: want mid-stream error to surface, got clean end")
	}
	if n != 1 {
		t.Errorf("chunks before error: want 1, got %d", n)
	}
	if b.SynthesizeCallCount() != 0 {
		t.Errorf("provider B called after chunk was sent; want no switch")
	}
}

// gatedTTS fails its first call and blocks later ones until released.
type gatedTTS struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (g *gatedTTS) Label() string { return "gated" }

func (g *gatedTTS) Capabilities() tts.Capabilities { return tts.Capabilities{Streaming: true} }

func (g *gatedTTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.AudioStream, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n == 1 {
		return nil, provider.NewStatusError("bad request", 400)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out, w := tts.NewAudioStream(1)
	w.Close()
	return out, nil
}

func (g *gatedTTS) Stream(ctx context.Context, opts tts.SynthesizeOptions) (tts.Stream, error) {
	return nil, provider.NewConnectionError("gated: streaming not used", nil)
}

func (g *gatedTTS) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestFallback_RecoveryAfterCloseStaysQuiet(t *testing.T) {
	t.Parallel()

	p := &gatedTTS{release: make(chan struct{})}
	f, err := tts.NewFallbackAdapter([]tts.TTS{p}, tts.FallbackOptions{
		RetryInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewFallbackAdapter: %v", err)
	}

	s1, _ := f.Synthesize(context.Background(), "hello", tts.SynthesizeOptions{})
	if _, err := drainAudio(t, s1); err == nil {
		t.Fatal("first synthesis should fail")
	}

	s2, _ := f.Synthesize(context.Background(), "hello again", tts.SynthesizeOptions{})
	deadline := time.Now().Add(2 * time.Second)
	for p.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second synthesis never reached the provider")
		}
		time.Sleep(time.Millisecond)
	}

	// The provider comes back after Close; the adapter must swallow the
	// availability flip instead of sending on the closed channel.
	f.Close()
	close(p.release)

	if n, err := drainAudio(t, s2); err != nil || n != 0 {
		t.Fatalf("drain after close: %d chunks, err %v; want empty success", n, err)
	}
	if _, open := <-f.AvailabilityChanged(); open {
		// Drain the buffered unavailable event, then expect closed.
		if _, open := <-f.AvailabilityChanged(); open {
			t.Fatal("availability channel still open after Close")
		}
	}
}
