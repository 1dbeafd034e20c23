// Package stt defines the contract between the Cadenza runtime and
// Speech-to-Text backends: the speech event model, the non-streaming and
// streaming recognition interfaces, a stream adapter that lifts a
// non-streaming recognizer into the streaming interface using VAD segment
// boundaries, and a multi-provider fallback adapter.
//
// Implementations must be safe for concurrent use. Each open stream is
// owned by a single audio pipeline.
package stt

import (
	"context"
	"time"

	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider"
)

// SpeechEventType enumerates the events a recognition stream can emit.
type SpeechEventType string

const (
	// EventStartOfSpeech marks the provider detecting the start of speech.
	EventStartOfSpeech SpeechEventType = "start_of_speech"

	// EventInterimTranscript carries a low-latency preliminary hypothesis.
	EventInterimTranscript SpeechEventType = "interim_transcript"

	// EventFinalTranscript carries a committed recognition result.
	EventFinalTranscript SpeechEventType = "final_transcript"

	// EventRecognitionUsage reports billed audio duration.
	EventRecognitionUsage SpeechEventType = "recognition_usage"

	// EventEndOfSpeech marks the provider detecting the end of speech.
	EventEndOfSpeech SpeechEventType = "end_of_speech"
)

// SpeechData is one recognition alternative.
type SpeechData struct {
	Text       string
	Language   string
	Confidence float64 // 0 when the provider does not report confidence
	StartTime  time.Duration
	EndTime    time.Duration
}

// RecognitionUsage carries billing-relevant accounting for a stream segment.
type RecognitionUsage struct {
	AudioDuration time.Duration
}

// SpeechEvent is one event emitted by a recognition stream. Alternatives are
// ordered best-first; Usage is set only on EventRecognitionUsage.
type SpeechEvent struct {
	Type         SpeechEventType
	RequestID    string
	Alternatives []SpeechData
	Usage        *RecognitionUsage
}

// Capabilities describes static properties of an STT implementation.
type Capabilities struct {
	// Streaming reports native streaming support. Non-streaming recognizers
	// are lifted with [NewStreamAdapter].
	Streaming bool

	// InterimResults reports whether the provider emits interim transcripts.
	InterimResults bool
}

// RecognizeOptions tunes one recognition call or stream.
type RecognizeOptions struct {
	// Language is the BCP-47 recognition language; empty auto-detects.
	Language string

	// ConnOptions governs timeouts and retries; zero value selects defaults.
	ConnOptions provider.ConnOptions
}

// STT is the abstraction over any speech-to-text backend.
type STT interface {
	// Label returns a short provider identifier for logs and metrics.
	Label() string

	Capabilities() Capabilities

	// Recognize transcribes a complete utterance buffer in one shot.
	Recognize(ctx context.Context, buffer []audio.AudioFrame, opts RecognizeOptions) (SpeechEvent, error)

	// Stream opens a streaming recognition session. The caller owns the
	// returned stream and must call Close.
	Stream(ctx context.Context, opts RecognizeOptions) (Stream, error)
}

// Stream is an open recognition session: audio frames in, speech events out.
//
// PushFrame must not block on network I/O; implementations buffer
// internally. Read blocks until an event is available, the stream ends
// (io.EOF), or ctx is cancelled.
type Stream interface {
	// PushFrame delivers one audio frame for transcription.
	PushFrame(frame audio.AudioFrame) error

	// Flush marks a segment boundary, asking the provider to finalize the
	// audio pushed so far.
	Flush() error

	// EndInput signals that no more audio will be pushed. The stream ends
	// after remaining events are delivered.
	EndInput() error

	// Read returns the next speech event.
	Read(ctx context.Context) (SpeechEvent, error)

	// Close terminates the session and releases resources. Idempotent.
	Close() error
}
