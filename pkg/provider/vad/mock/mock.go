// Package mock provides test doubles for the vad package interfaces.
//
// Use VAD to verify that streams are opened with the expected Config. Use
// Stream to script detection events and inspect the frames that were pushed.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider/vad"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// StreamCall records a single invocation of VAD.Stream.
type StreamCall struct {
	Cfg vad.Config
}

// VAD is a mock implementation of vad.VAD.
type VAD struct {
	mu sync.Mutex

	// Name is returned by Label. Defaults to "mock" when empty.
	Name string

	// NextStream is the stream returned by the next Stream call. If nil, a
	// new default Stream is returned.
	NextStream vad.Stream

	// StreamErr, if non-nil, is returned as the error from Stream.
	StreamErr error

	// StreamCalls records every call to Stream in order.
	StreamCalls []StreamCall
}

var _ vad.VAD = (*VAD)(nil)

// Label implements vad.VAD.
func (v *VAD) Label() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Name == "" {
		return "mock"
	}
	return v.Name
}

// Stream records the call and returns NextStream (or a fresh default
// Stream), StreamErr.
func (v *VAD) Stream(cfg vad.Config) (vad.Stream, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.StreamCalls = append(v.StreamCalls, StreamCall{Cfg: cfg})
	if v.StreamErr != nil {
		return nil, v.StreamErr
	}
	if v.NextStream != nil {
		return v.NextStream, nil
	}
	return NewStream(), nil
}

// Reset clears all recorded calls. Thread-safe.
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.StreamCalls = nil
}

// Stream is a mock implementation of vad.Stream. Tests script events with
// Emit and End; pushed frames are recorded for inspection.
type Stream struct {
	mu sync.Mutex

	// PushFrameErr, if non-nil, is returned by every PushFrame call.
	PushFrameErr error

	// PushedFrames records every frame pushed, in order.
	PushedFrames []audio.AudioFrame

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	events *stream.Pipe[vad.Event]
}

var _ vad.Stream = (*Stream)(nil)

// NewStream returns an empty scripted stream.
func NewStream() *Stream {
	return &Stream{events: stream.NewPipe[vad.Event](32)}
}

// Emit makes ev available to the next Read.
func (s *Stream) Emit(ev vad.Event) {
	_ = s.events.Write(context.Background(), ev)
}

// End terminates the event stream cleanly; subsequent Reads return io.EOF.
func (s *Stream) End() {
	s.events.CloseWrite()
}

// PushFrame records the frame and returns PushFrameErr.
func (s *Stream) PushFrame(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PushedFrames = append(s.PushedFrames, frame)
	return s.PushFrameErr
}

// Read returns the next scripted event.
func (s *Stream) Read(ctx context.Context) (vad.Event, error) {
	return s.events.Read(ctx)
}

// Close records the call and ends the event stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.events.CloseWrite()
	return nil
}
