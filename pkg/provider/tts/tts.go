// Package tts defines the contract between the Cadenza runtime and
// Text-to-Speech backends: one-shot and incremental synthesis interfaces, a
// stream adapter that lifts a non-streaming synthesizer into the incremental
// interface by sentence chunking, and a multi-provider fallback adapter.
//
// Synthesis output always streams: even a one-shot Synthesize call returns
// audio chunk by chunk so playback can start before the full utterance is
// rendered.
//
// Implementations must be safe for concurrent use; each open stream is owned
// by a single speech pipeline.
package tts

import (
	"context"
	"time"

	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// Capabilities describes static properties of a TTS implementation.
type Capabilities struct {
	// Streaming reports native incremental-input support. Non-streaming
	// synthesizers are lifted with [NewStreamAdapter].
	Streaming bool

	// AlignedTranscript reports whether the provider emits word-level
	// timings alongside the audio.
	AlignedTranscript bool
}

// SynthesizeOptions tunes one synthesis call or stream.
type SynthesizeOptions struct {
	// Voice is the provider-specific voice identifier; empty selects the
	// provider default.
	Voice string

	// ConnOptions governs timeouts and retries; zero value selects defaults.
	ConnOptions provider.ConnOptions
}

// TimedString is a piece of synthesized text with its position in the audio.
type TimedString struct {
	Text      string
	StartTime time.Duration
	EndTime   time.Duration
}

// SynthesizedAudio is one chunk of synthesis output.
type SynthesizedAudio struct {
	// RequestID identifies the synthesis request; SegmentID the input
	// segment (one per Flush on incremental streams).
	RequestID string
	SegmentID string

	Frame audio.AudioFrame

	// DeltaText is the input text this chunk corresponds to, when the
	// provider reports it.
	DeltaText string

	// Timed carries word timings when the provider supports aligned
	// transcripts.
	Timed []TimedString

	// Final marks the last chunk of a segment.
	Final bool
}

// AudioStream is the consumer side of one synthesis request. The stream ends
// with io.EOF after the final chunk, or with a typed provider error.
type AudioStream struct {
	pipe *stream.Pipe[SynthesizedAudio]
}

// NewAudioStream returns a stream and its producer side. Implementations of
// [TTS] write chunks through the returned writer and close or abort it when
// synthesis ends.
func NewAudioStream(capacity int) (*AudioStream, *AudioStreamWriter) {
	p := stream.NewPipe[SynthesizedAudio](capacity)
	return &AudioStream{pipe: p}, &AudioStreamWriter{pipe: p}
}

// Read returns the next chunk, io.EOF at clean end of synthesis, or the
// error that terminated the stream.
func (s *AudioStream) Read(ctx context.Context) (SynthesizedAudio, error) {
	return s.pipe.Read(ctx)
}

// AudioStreamWriter is the producer side handed to TTS implementations.
type AudioStreamWriter struct {
	pipe *stream.Pipe[SynthesizedAudio]
}

// Write emits one chunk, blocking while the consumer is behind.
func (w *AudioStreamWriter) Write(ctx context.Context, c SynthesizedAudio) error {
	return w.pipe.Write(ctx, c)
}

// Close ends the stream cleanly.
func (w *AudioStreamWriter) Close() { w.pipe.CloseWrite() }

// Abort terminates the stream with err.
func (w *AudioStreamWriter) Abort(err error) { w.pipe.Abort(err) }

// TTS is the abstraction over any speech synthesis backend.
type TTS interface {
	// Label returns a short provider identifier for logs and metrics.
	Label() string

	Capabilities() Capabilities

	// Synthesize renders one complete text. Audio still arrives chunk by
	// chunk through the returned stream.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*AudioStream, error)

	// Stream opens an incremental synthesis session. The caller owns the
	// returned stream and must call Close.
	Stream(ctx context.Context, opts SynthesizeOptions) (Stream, error)
}

// Stream is an open incremental synthesis session: text fragments in, audio
// chunks out.
//
// PushText must not block on network I/O. Read blocks until a chunk is
// available, the stream ends (io.EOF), or ctx is cancelled.
type Stream interface {
	// PushText delivers a text fragment for synthesis. Fragments need not
	// align with word or sentence boundaries.
	PushText(text string) error

	// Flush marks a segment boundary, forcing buffered text into synthesis.
	Flush() error

	// EndInput signals that no more text will be pushed. The stream ends
	// after remaining audio is delivered.
	EndInput() error

	// Read returns the next audio chunk.
	Read(ctx context.Context) (SynthesizedAudio, error)

	// Close terminates the session and discards unsynthesized text.
	// Idempotent.
	Close() error
}
