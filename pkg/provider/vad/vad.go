// Package vad defines the contract for Voice Activity Detection backends.
//
// A VAD wraps a frame-level speech detector (Silero, WebRTC VAD, or a custom
// model) and surfaces it as a per-stream session: audio frames are pushed in,
// speech boundary events come out. Each stream maintains its own smoothing
// state so that concurrent audio pipelines stay independent.
//
// Implementations must be safe for concurrent use across streams. A single
// Stream is owned by one audio pipeline.
package vad

import (
	"context"
	"time"

	"github.com/MrWong99/cadenza/pkg/audio"
)

// EventType enumerates the events a VAD stream emits.
type EventType string

const (
	// EventStartOfSpeech fires once when the detector commits to speech
	// having started. The event carries the padded frames leading up to it.
	EventStartOfSpeech EventType = "start_of_speech"

	// EventInferenceDone fires after each processed frame with the current
	// speech probability and accumulated durations.
	EventInferenceDone EventType = "inference_done"

	// EventEndOfSpeech fires once when the detector commits to speech having
	// ended. The event carries every frame of the finished segment.
	EventEndOfSpeech EventType = "end_of_speech"
)

// Event is one detection result.
type Event struct {
	Type EventType

	// Probability is the speech probability of the latest frame (0..1).
	Probability float64

	// Timestamp is the position of the latest frame in the input stream.
	Timestamp time.Duration

	// SpeechDuration and SilenceDuration are the accumulated durations of
	// the current run of speech or silence.
	SpeechDuration  time.Duration
	SilenceDuration time.Duration

	// Frames carries segment audio on EventStartOfSpeech (prefix padding)
	// and EventEndOfSpeech (the whole segment). Nil otherwise.
	Frames []audio.AudioFrame
}

// Config holds the parameters for one VAD stream.
type Config struct {
	// SampleRate must match the rate of pushed frames. Common: 8000, 16000.
	SampleRate int

	// ActivationThreshold is the probability above which a frame counts as
	// speech. Typical: 0.5.
	ActivationThreshold float64

	// MinSpeechDuration is how long probabilities must stay above the
	// threshold before EventStartOfSpeech fires.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is how long probabilities must stay below the
	// threshold before EventEndOfSpeech fires.
	MinSilenceDuration time.Duration

	// PrefixPaddingDuration is how much audio before the detected start is
	// included in the segment, so leading phonemes are not clipped.
	PrefixPaddingDuration time.Duration
}

// VAD is the factory for detection streams.
type VAD interface {
	// Label returns a short detector identifier for logs and metrics.
	Label() string

	// Stream opens a detection session. The caller owns the stream and must
	// call Close.
	Stream(cfg Config) (Stream, error)
}

// Stream is an open detection session.
//
// PushFrame must not block; detectors run inference inline or buffer
// internally. Read blocks until an event is available, the stream ends
// (io.EOF), or ctx is cancelled.
type Stream interface {
	// PushFrame delivers one audio frame for detection.
	PushFrame(frame audio.AudioFrame) error

	// Read returns the next detection event.
	Read(ctx context.Context) (Event, error)

	// Close ends the session. A speech segment still open is discarded.
	// Idempotent.
	Close() error
}
