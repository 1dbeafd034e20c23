package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/provider"
)

// FallbackOptions tunes the multi-provider fallback policy.
type FallbackOptions struct {
	// AttemptTimeout bounds one synthesis or stream-open attempt.
	// Default 10s.
	AttemptTimeout time.Duration

	// MaxRetryPerProvider is the number of retries on the same provider
	// before advancing to the next one. Default 1.
	MaxRetryPerProvider int

	// RetryInterval is the base delay between retries on one provider.
	// Default 500ms.
	RetryInterval time.Duration

	// RetryOnChunkSent permits switching providers after audio has already
	// been forwarded to the caller. The result splices audio from different
	// voices, which is audible; leave false unless truncated speech is worse
	// than a mid-utterance voice change.
	RetryOnChunkSent bool
}

func (o FallbackOptions) withDefaults() FallbackOptions {
	if o.AttemptTimeout == 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.MaxRetryPerProvider == 0 {
		o.MaxRetryPerProvider = 1
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	return o
}

// recoveryProbeTimeout bounds one recovery probe synthesis.
const recoveryProbeTimeout = 5 * time.Second

// probeText is the short utterance rendered to check whether an unavailable
// provider has recovered. The audio is discarded.
const probeText = "ping"

// AvailabilityChange reports a provider flipping between available and
// unavailable inside a fallback adapter.
type AvailabilityChange struct {
	Provider  string
	Available bool
}

type providerState struct {
	tts       TTS
	available bool
	probing   bool
}

// FallbackAdapter composes several TTS providers behind the [TTS] interface.
// Calls iterate over available providers (or all of them when none are
// marked available); a provider that fails is marked unavailable and probed
// in the background until it recovers.
type FallbackAdapter struct {
	opts   FallbackOptions
	events chan AvailabilityChange

	mu     sync.Mutex
	states []*providerState
	closed bool

	probeCtx    context.Context
	probeCancel context.CancelFunc
	probeWG     sync.WaitGroup
}

var _ TTS = (*FallbackAdapter)(nil)

// NewFallbackAdapter composes providers in priority order. At least one
// provider is required.
func NewFallbackAdapter(providers []TTS, opts FallbackOptions) (*FallbackAdapter, error) {
	if len(providers) == 0 {
		return nil, errors.New("tts: fallback adapter needs at least one provider")
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &FallbackAdapter{
		opts:        opts.withDefaults(),
		events:      make(chan AvailabilityChange, 16),
		probeCtx:    ctx,
		probeCancel: cancel,
	}
	for _, p := range providers {
		f.states = append(f.states, &providerState{tts: p, available: true})
	}
	return f, nil
}

// Label implements [TTS].
func (f *FallbackAdapter) Label() string { return "tts.fallback" }

// Capabilities implements [TTS]. Each capability is reported only when every
// provider has it, so callers cannot observe a capability change across a
// failover.
func (f *FallbackAdapter) Capabilities() Capabilities {
	caps := Capabilities{Streaming: true, AlignedTranscript: true}
	for _, st := range f.states {
		c := st.tts.Capabilities()
		caps.Streaming = caps.Streaming && c.Streaming
		caps.AlignedTranscript = caps.AlignedTranscript && c.AlignedTranscript
	}
	return caps
}

// AvailabilityChanged returns the event channel for availability flips.
// Events are dropped, not blocked on, when the consumer falls behind.
func (f *FallbackAdapter) AvailabilityChanged() <-chan AvailabilityChange {
	return f.events
}

// Close stops background recovery probes. In-flight synthesis streams are
// not interrupted.
func (f *FallbackAdapter) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.probeCancel()
	f.probeWG.Wait()
	close(f.events)
}

// Synthesize implements [TTS]. The returned stream forwards chunks from the
// first provider that succeeds; if every candidate fails, the stream errors
// with an [provider.APIConnectionError].
func (f *FallbackAdapter) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*AudioStream, error) {
	out, w := NewAudioStream(8)
	go f.run(ctx, text, opts, w)
	return out, nil
}

// Stream implements [TTS]. Failover applies to opening the stream; errors on
// an already open stream surface to the caller, which reopens through the
// adapter to pick the next provider.
func (f *FallbackAdapter) Stream(ctx context.Context, opts SynthesizeOptions) (Stream, error) {
	var lastErr error
	for _, st := range f.candidates() {
		if !st.tts.Capabilities().Streaming {
			continue
		}
		s, err := st.tts.Stream(ctx, opts)
		if err == nil {
			f.markAvailable(st)
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		f.markUnavailable(st)
		slog.Warn("tts fallback: stream open failed, advancing",
			"provider", st.tts.Label(), "err", err)
	}
	return nil, provider.NewConnectionError(
		fmt.Sprintf("tts fallback: no provider could open a stream: %v", lastErr), lastErr)
}

func (f *FallbackAdapter) run(ctx context.Context, text string, opts SynthesizeOptions, w *AudioStreamWriter) {
	start := time.Now()
	for _, st := range f.candidates() {
		emitted, err := f.tryProvider(ctx, st, text, opts, w)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			w.Abort(ctx.Err())
			return
		}
		if emitted && !f.opts.RetryOnChunkSent {
			// The caller already heard partial audio from this voice;
			// switching now would splice two voices together.
			w.Abort(err)
			return
		}
		f.markUnavailable(st)
		slog.Warn("tts fallback: provider failed, advancing",
			"provider", st.tts.Label(), "err", err)
	}

	w.Abort(provider.NewConnectionError(
		fmt.Sprintf("tts fallback: all providers failed after %v", time.Since(start).Round(time.Millisecond)),
		nil,
	))
}

// tryProvider renders text with one provider, retrying per options. It
// reports whether any chunk was forwarded and the terminal error, nil on
// success.
func (f *FallbackAdapter) tryProvider(ctx context.Context, st *providerState, text string, opts SynthesizeOptions, w *AudioStreamWriter) (emitted bool, err error) {
	for attempt := 0; attempt <= f.opts.MaxRetryPerProvider; attempt++ {
		if attempt > 0 {
			interval := provider.ConnOptions{
				RetryInterval: f.opts.RetryInterval,
			}.IntervalForRetry(attempt - 1)
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return emitted, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.opts.AttemptTimeout)
		ok, e := f.attempt(attemptCtx, st, text, opts, w, &emitted)
		cancel()
		if ok {
			f.markAvailable(st)
			return emitted, nil
		}
		err = e
		if emitted && !f.opts.RetryOnChunkSent {
			return emitted, err
		}
		if !provider.IsRetryable(err) {
			return emitted, err
		}
	}
	return emitted, err
}

func (f *FallbackAdapter) attempt(ctx context.Context, st *providerState, text string, opts SynthesizeOptions, w *AudioStreamWriter, emitted *bool) (bool, error) {
	s, err := st.tts.Synthesize(ctx, text, opts)
	if err != nil {
		return false, err
	}
	for {
		chunk, err := s.Read(ctx)
		if errors.Is(err, io.EOF) {
			w.Close()
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if werr := w.Write(ctx, chunk); werr != nil {
			// Consumer went away; treat as success so no other provider runs.
			return true, nil
		}
		*emitted = true
	}
}

// candidates returns available providers in priority order, or every
// provider when none is marked available.
func (f *FallbackAdapter) candidates() []*providerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	var avail []*providerState
	for _, st := range f.states {
		if st.available {
			avail = append(avail, st)
		}
	}
	if len(avail) > 0 {
		return avail
	}
	return append([]*providerState{}, f.states...)
}

func (f *FallbackAdapter) markAvailable(st *providerState) {
	f.mu.Lock()
	changed := !st.available && !f.closed
	st.available = true
	f.mu.Unlock()
	if changed {
		f.emit(AvailabilityChange{Provider: st.tts.Label(), Available: true})
	}
}

func (f *FallbackAdapter) markUnavailable(st *providerState) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	changed := st.available
	st.available = false
	startProbe := !st.probing
	if startProbe {
		st.probing = true
		f.probeWG.Add(1)
	}
	f.mu.Unlock()

	if changed {
		f.emit(AvailabilityChange{Provider: st.tts.Label(), Available: false})
	}
	if startProbe {
		go f.probeLoop(st)
	}
}

// probeLoop renders short probe utterances until the provider answers again.
// At most one loop runs per provider.
func (f *FallbackAdapter) probeLoop(st *providerState) {
	defer f.probeWG.Done()
	attempt := 0
	for {
		select {
		case <-f.probeCtx.Done():
			return
		case <-time.After(provider.ConnOptions{RetryInterval: f.opts.RetryInterval}.IntervalForRetry(attempt)):
		}
		attempt++

		if f.probe(st) {
			f.mu.Lock()
			st.available = true
			st.probing = false
			f.mu.Unlock()
			f.emit(AvailabilityChange{Provider: st.tts.Label(), Available: true})
			slog.Info("tts fallback: provider recovered", "provider", st.tts.Label())
			return
		}
	}
}

func (f *FallbackAdapter) probe(st *providerState) bool {
	ctx, cancel := context.WithTimeout(f.probeCtx, recoveryProbeTimeout)
	defer cancel()

	s, err := st.tts.Synthesize(ctx, probeText, SynthesizeOptions{})
	if err != nil {
		return false
	}
	for {
		_, err := s.Read(ctx)
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			return false
		}
	}
}

func (f *FallbackAdapter) emit(ev AvailabilityChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.events <- ev:
	default:
	}
}
