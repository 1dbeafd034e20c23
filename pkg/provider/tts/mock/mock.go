// Package mock provides test doubles for the tts package interfaces.
//
// Use TTS to script synthesis output; the mock renders a configurable number
// of audio chunks per call. Use Stream to script incremental sessions.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider/tts"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// SynthesizeCall records a single invocation of TTS.Synthesize.
type SynthesizeCall struct {
	Text string
	Opts tts.SynthesizeOptions
}

// StreamCall records a single invocation of TTS.Stream.
type StreamCall struct {
	Opts tts.SynthesizeOptions
}

// TTS is a mock implementation of tts.TTS.
type TTS struct {
	mu sync.Mutex

	// Name is returned by Label. Defaults to "mock" when empty.
	Name string

	// Caps is returned by Capabilities.
	Caps tts.Capabilities

	// Chunks is the audio emitted by every Synthesize call. When nil, one
	// 20ms 16kHz mono frame is emitted per call.
	Chunks []tts.SynthesizedAudio

	// Err, if non-nil, is returned by Synthesize and Stream.
	Err error

	// StreamErr, if non-nil, aborts every Synthesize stream after Chunks.
	StreamErr error

	// NextStream is the stream returned by the next Stream call. If nil, a
	// new default Stream is returned.
	NextStream tts.Stream

	// SynthesizeCalls and StreamCalls record every call in order.
	SynthesizeCalls []SynthesizeCall
	StreamCalls     []StreamCall
}

var _ tts.TTS = (*TTS)(nil)

// DefaultFrame is the frame emitted when Chunks is nil.
func DefaultFrame() audio.AudioFrame {
	const sampleRate, channels = 16000, 1
	samples := sampleRate / 50 // 20ms
	return audio.AudioFrame{
		Data:       make([]byte, samples*channels*2),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Label implements tts.TTS.
func (m *TTS) Label() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

// Capabilities implements tts.TTS.
func (m *TTS) Capabilities() tts.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Caps
}

// Synthesize records the call and plays back the scripted chunks.
func (m *TTS) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.AudioStream, error) {
	m.mu.Lock()
	m.SynthesizeCalls = append(m.SynthesizeCalls, SynthesizeCall{Text: text, Opts: opts})
	err := m.Err
	chunks := m.Chunks
	streamErr := m.StreamErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []tts.SynthesizedAudio{{Frame: DefaultFrame(), Final: true}}
	}

	out, w := tts.NewAudioStream(len(chunks) + 1)
	go func() {
		for _, c := range chunks {
			if werr := w.Write(ctx, c); werr != nil {
				return
			}
		}
		if streamErr != nil {
			w.Abort(streamErr)
			return
		}
		w.Close()
	}()
	return out, nil
}

// Stream records the call and returns NextStream (or a fresh default
// Stream), Err.
func (m *TTS) Stream(ctx context.Context, opts tts.SynthesizeOptions) (tts.Stream, error) {
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
func (m *TTS) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// SynthesizeCallCount returns the number of recorded Synthesize calls.
func (m *TTS) SynthesizeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SynthesizeCalls)
}

// SynthesizedTexts returns the text of every recorded Synthesize call.
func (m *TTS) SynthesizedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	texts := make([]string, len(m.SynthesizeCalls))
	for i, c := range m.SynthesizeCalls {
		texts[i] = c.Text
	}
	return texts
}

// Reset clears all recorded calls. Thread-safe.
func (m *TTS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SynthesizeCalls = nil
	m.StreamCalls = nil
}

// Stream is a mock implementation of tts.Stream. Tests script audio with
// Emit and End; pushed text is recorded for inspection.
type Stream struct {
	mu sync.Mutex

	// PushTextErr, if non-nil, is returned by every PushText call.
	PushTextErr error

	// PushedText records every fragment pushed, in order.
	PushedText []string

	// FlushCallCount, EndInputCallCount and CloseCallCount count the
	// respective calls.
	FlushCallCount    int
	EndInputCallCount int
	CloseCallCount    int

	chunks *stream.Pipe[tts.SynthesizedAudio]
}

var _ tts.Stream = (*Stream)(nil)

// NewStream returns an empty scripted stream.
func NewStream() *Stream {
	return &Stream{chunks: stream.NewPipe[tts.SynthesizedAudio](32)}
}

// Emit makes c available to the next Read.
func (s *Stream) Emit(c tts.SynthesizedAudio) {
	_ = s.chunks.Write(context.Background(), c)
}

// End terminates the audio stream cleanly; subsequent Reads return io.EOF.
func (s *Stream) End() {
	s.chunks.CloseWrite()
}

// Abort terminates the audio stream with err.
func (s *Stream) Abort(err error) {
	s.chunks.Abort(err)
}

// PushText records the fragment and returns PushTextErr.
func (s *Stream) PushText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PushedText = append(s.PushedText, text)
	return s.PushTextErr
}

// Flush records the call.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCallCount++
	return nil
}

// EndInput records the call and ends the audio stream.
func (s *Stream) EndInput() error {
	s.mu.Lock()
	s.EndInputCallCount++
	s.mu.Unlock()
	s.chunks.CloseWrite()
	return nil
}

// Read returns the next scripted chunk.
func (s *Stream) Read(ctx context.Context) (tts.SynthesizedAudio, error) {
	return s.chunks.Read(ctx)
}

// Close records the call and ends the audio stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.chunks.CloseWrite()
	return nil
}
