// Package mock provides test doubles for the stt package interfaces.
//
// Use STT to script Recognize results and streams; use Stream to script
// speech events and inspect pushed frames.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider/stt"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// RecognizeCall records a single invocation of STT.Recognize.
type RecognizeCall struct {
	Frames []audio.AudioFrame
	Opts   stt.RecognizeOptions
}

// StreamCall records a single invocation of STT.Stream.
type StreamCall struct {
	Opts stt.RecognizeOptions
}

// STT is a mock implementation of stt.STT.
type STT struct {
	mu sync.Mutex

	// Name is returned by Label. Defaults to "mock" when empty.
	Name string

	// Caps is returned by Capabilities.
	Caps stt.Capabilities

	// RecognizeResult is returned by every Recognize call.
	RecognizeResult stt.SpeechEvent

	// RecognizeFn, if set, computes the Recognize result instead of
	// RecognizeResult.
	RecognizeFn func(frames []audio.AudioFrame) (stt.SpeechEvent, error)

	// Err, if non-nil, is returned by Recognize and Stream.
	Err error

	// NextStream is the stream returned by the next Stream call. If nil, a
	// new default Stream is returned.
	NextStream stt.Stream

	// RecognizeCalls and StreamCalls record every call in order.
	RecognizeCalls []RecognizeCall
	StreamCalls    []StreamCall
}

var _ stt.STT = (*STT)(nil)

// Label implements stt.STT.
func (m *STT) Label() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

// Capabilities implements stt.STT.
func (m *STT) Capabilities() stt.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Caps
}

// Recognize records the call and returns the scripted result.
func (m *STT) Recognize(ctx context.Context, buffer []audio.AudioFrame, opts stt.RecognizeOptions) (stt.SpeechEvent, error) {
	m.mu.Lock()
	m.RecognizeCalls = append(m.RecognizeCalls, RecognizeCall{Frames: buffer, Opts: opts})
	err := m.Err
	fn := m.RecognizeFn
	res := m.RecognizeResult
	m.mu.Unlock()

	if err != nil {
		return stt.SpeechEvent{}, err
	}
	if fn != nil {
		return fn(buffer)
	}
	return res, nil
}

// Stream records the call and returns NextStream (or a fresh default
// Stream), Err.
func (m *STT) Stream(ctx context.Context, opts stt.RecognizeOptions) (stt.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamCalls = append(m.StreamCalls, StreamCall{Opts: opts})
	if m.Err != nil {
		return nil, m.Err
	}
	if m.NextStream != nil {
		return m.NextStream, nil
	}
	return NewStream(), nil
}

// SetErr replaces Err. Thread-safe.
func (m *STT) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// RecognizeCallCount returns the number of recorded Recognize calls.
func (m *STT) RecognizeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecognizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (m *STT) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecognizeCalls = nil
	m.StreamCalls = nil
}

// Stream is a mock implementation of stt.Stream. Tests script events with
// Emit and End; pushed frames are recorded for inspection.
type Stream struct {
	mu sync.Mutex

	// PushFrameErr, if non-nil, is returned by every PushFrame call.
	PushFrameErr error

	// PushedFrames records every frame pushed, in order.
	PushedFrames []audio.AudioFrame

	// FlushCallCount, EndInputCallCount and CloseCallCount count the
	// respective calls.
	FlushCallCount    int
	EndInputCallCount int
	CloseCallCount    int

	events *stream.Pipe[stt.SpeechEvent]
}

var _ stt.Stream = (*Stream)(nil)

// NewStream returns an empty scripted stream.
func NewStream() *Stream {
	return &Stream{events: stream.NewPipe[stt.SpeechEvent](32)}
}

// Emit makes ev available to the next Read.
func (s *Stream) Emit(ev stt.SpeechEvent) {
	_ = s.events.Write(context.Background(), ev)
}

// End terminates the event stream cleanly; subsequent Reads return io.EOF.
func (s *Stream) End() {
	s.events.CloseWrite()
}

// Abort terminates the event stream with err.
func (s *Stream) Abort(err error) {
	s.events.Abort(err)
}

// PushFrame records the frame and returns PushFrameErr.
func (s *Stream) PushFrame(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PushedFrames = append(s.PushedFrames, frame)
	return s.PushFrameErr
}

// Flush records the call.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCallCount++
	return nil
}

// EndInput records the call and ends the event stream.
func (s *Stream) EndInput() error {
	s.mu.Lock()
	s.EndInputCallCount++
	s.mu.Unlock()
	s.events.CloseWrite()
	return nil
}

// Read returns the next scripted event.
func (s *Stream) Read(ctx context.Context) (stt.SpeechEvent, error) {
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
