package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider"
)

// FallbackOptions tunes the multi-provider fallback policy.
type FallbackOptions struct {
	// AttemptTimeout bounds one Recognize or stream-open attempt. Default 10s.
	AttemptTimeout time.Duration

	// MaxRetryPerProvider is the number of retries on the same provider
	// before advancing to the next one. Default 1.
	MaxRetryPerProvider int

	// RetryInterval is the base delay between retries on one provider.
	// Default 500ms.
	RetryInterval time.Duration
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

// AvailabilityChange reports a provider flipping between available and
// unavailable inside a fallback adapter.
type AvailabilityChange struct {
	Provider  string
	Available bool
}

type providerState struct {
	stt       STT
	available bool
}

// FallbackAdapter composes several STT providers behind the [STT] interface.
// Calls iterate over available providers (or all of them when none are
// marked available); a provider that fails is marked unavailable. Recovery
// is attempt-driven: probing a recognizer requires audio, so an unavailable
// provider flips back on its next successful real call rather than through
// a synthetic background probe.
type FallbackAdapter struct {
	opts   FallbackOptions
	events chan AvailabilityChange

	mu     sync.Mutex
	states []*providerState
	closed bool
}

var _ STT = (*FallbackAdapter)(nil)

// NewFallbackAdapter composes providers in priority order. At least one
// provider is required.
func NewFallbackAdapter(providers []STT, opts FallbackOptions) (*FallbackAdapter, error) {
	if len(providers) == 0 {
		return nil, errors.New("stt: fallback adapter needs at least one provider")
	}
	f := &FallbackAdapter{
		opts:   opts.withDefaults(),
		events: make(chan AvailabilityChange, 16),
	}
	for _, p := range providers {
		f.states = append(f.states, &providerState{stt: p, available: true})
	}
	return f, nil
}

// Label implements [STT].
func (f *FallbackAdapter) Label() string { return "stt.fallback" }

// Capabilities implements [STT]. The composite streams only when every
// provider does, and reports interim results only when every provider does,
// so callers cannot observe a capability change across a failover.
func (f *FallbackAdapter) Capabilities() Capabilities {
	caps := Capabilities{Streaming: true, InterimResults: true}
	for _, st := range f.states {
		c := st.stt.Capabilities()
		caps.Streaming = caps.Streaming && c.Streaming
		caps.InterimResults = caps.InterimResults && c.InterimResults
	}
	return caps
}

// AvailabilityChanged returns the event channel for availability flips.
// Events are dropped, not blocked on, when the consumer falls behind.
func (f *FallbackAdapter) AvailabilityChanged() <-chan AvailabilityChange {
	return f.events
}

// Close closes the availability event channel.
func (f *FallbackAdapter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
}

// Recognize implements [STT], failing over across providers.
func (f *FallbackAdapter) Recognize(ctx context.Context, buffer []audio.AudioFrame, opts RecognizeOptions) (SpeechEvent, error) {
	var lastErr error
	for _, st := range f.candidates() {
		ev, err := f.tryRecognize(ctx, st, buffer, opts)
		if err == nil {
			f.markAvailable(st)
			return ev, nil
		}
		if ctx.Err() != nil {
			return SpeechEvent{}, ctx.Err()
		}
		lastErr = err
		f.markUnavailable(st)
		slog.Warn("stt fallback: provider failed, advancing",
			"provider", st.stt.Label(), "err", err)
	}
	return SpeechEvent{}, provider.NewConnectionError(
		fmt.Sprintf("stt fallback: all providers failed: %v", lastErr), lastErr)
}

// Stream implements [STT]. Failover applies to opening the stream; errors on
// an already open stream surface to the caller, which reopens through the
// adapter to pick the next provider.
func (f *FallbackAdapter) Stream(ctx context.Context, opts RecognizeOptions) (Stream, error) {
	var lastErr error
	for _, st := range f.candidates() {
		if !st.stt.Capabilities().Streaming {
			continue
		}
		s, err := f.tryStream(ctx, st, opts)
		if err == nil {
			f.markAvailable(st)
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		f.markUnavailable(st)
		slog.Warn("stt fallback: stream open failed, advancing",
			"provider", st.stt.Label(), "err", err)
	}
	return nil, provider.NewConnectionError(
		fmt.Sprintf("stt fallback: no provider could open a stream: %v", lastErr), lastErr)
}

func (f *FallbackAdapter) tryRecognize(ctx context.Context, st *providerState, buffer []audio.AudioFrame, opts RecognizeOptions) (SpeechEvent, error) {
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetryPerProvider; attempt++ {
		if err := f.pause(ctx, attempt); err != nil {
			return SpeechEvent{}, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, f.opts.AttemptTimeout)
		ev, err := st.stt.Recognize(attemptCtx, buffer, opts)
		cancel()
		if err == nil {
			return ev, nil
		}
		lastErr = err
		if !provider.IsRetryable(err) {
			break
		}
	}
	return SpeechEvent{}, lastErr
}

func (f *FallbackAdapter) tryStream(ctx context.Context, st *providerState, opts RecognizeOptions) (Stream, error) {
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetryPerProvider; attempt++ {
		if err := f.pause(ctx, attempt); err != nil {
			return nil, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, f.opts.AttemptTimeout)
		s, err := st.stt.Stream(attemptCtx, opts)
		cancel()
		if err == nil {
			return s, nil
		}
		lastErr = err
		if !provider.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (f *FallbackAdapter) pause(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return nil
	}
	interval := provider.ConnOptions{
		RetryInterval: f.opts.RetryInterval,
	}.IntervalForRetry(attempt - 1)
	select {
	case <-time.After(interval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
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
		f.emit(AvailabilityChange{Provider: st.stt.Label(), Available: true})
	}
}

func (f *FallbackAdapter) markUnavailable(st *providerState) {
	f.mu.Lock()
	changed := st.available && !f.closed
	st.available = false
	f.mu.Unlock()
	if changed {
		f.emit(AvailabilityChange{Provider: st.stt.Label(), Available: false})
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
