// Package metrics defines the measurement records emitted by the voice
// pipeline and a collector that aggregates them into a usage summary.
//
// Each pipeline stage produces one record per operation: an LLM generation,
// an STT recognition, a TTS synthesis, a VAD run or an end-of-utterance
// prediction. Records flow to the session's metrics channel where they can
// be logged, exported, or folded into a UsageSummary for billing.
package metrics

import (
	"time"
)

// Kind discriminates metric records.
type Kind string

const (
	KindLLM           Kind = "llm"
	KindSTT           Kind = "stt"
	KindTTS           Kind = "tts"
	KindVAD           Kind = "vad"
	KindEOU           Kind = "eou"
	KindRealtimeModel Kind = "realtime_model"
)

// Record is implemented by every metric record.
type Record interface {
	MetricKind() Kind
	At() time.Time
}

type base struct {
	// Timestamp is when the operation finished.
	Timestamp time.Time

	// RequestID ties the record to one provider operation; SpeechID, when
	// set, ties it to the scheduled speech it contributed to.
	RequestID string
	SpeechID  string

	// Label is the provider label that produced the record.
	Label string
}

func (b base) At() time.Time { return b.Timestamp }

// LLMMetrics measures one chat generation.
type LLMMetrics struct {
	base

	// Duration is the total wall time of the generation; TTFT the time to
	// the first token.
	Duration time.Duration
	TTFT     time.Duration

	Cancelled bool

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// TokensPerSecond is completion tokens over generation time after the
	// first token.
	TokensPerSecond float64
}

func (LLMMetrics) MetricKind() Kind { return KindLLM }

// NewLLMMetrics fills the shared fields.
func NewLLMMetrics(label, requestID, speechID string) LLMMetrics {
	return LLMMetrics{base: base{Timestamp: time.Now(), RequestID: requestID, SpeechID: speechID, Label: label}}
}

// STTMetrics measures one recognition, streamed or one-shot.
type STTMetrics struct {
	base

	Duration time.Duration

	// AudioDuration is the billed input audio length.
	AudioDuration time.Duration

	Streamed bool
}

func (STTMetrics) MetricKind() Kind { return KindSTT }

// NewSTTMetrics fills the shared fields.
func NewSTTMetrics(label, requestID string) STTMetrics {
	return STTMetrics{base: base{Timestamp: time.Now(), RequestID: requestID, Label: label}}
}

// TTSMetrics measures one synthesis.
type TTSMetrics struct {
	base

	// Duration is the total wall time; TTFB the time to the first audio
	// byte, the latency the user actually perceives.
	Duration time.Duration
	TTFB     time.Duration

	Cancelled bool

	// AudioDuration is the length of the produced audio;
	// CharacterCount the billed input length.
	AudioDuration  time.Duration
	CharacterCount int

	Streamed bool
}

func (TTSMetrics) MetricKind() Kind { return KindTTS }

// NewTTSMetrics fills the shared fields.
func NewTTSMetrics(label, requestID, speechID string) TTSMetrics {
	return TTSMetrics{base: base{Timestamp: time.Now(), RequestID: requestID, SpeechID: speechID, Label: label}}
}

// VADMetrics aggregates detector inference over a reporting interval.
type VADMetrics struct {
	base

	// IdleTime is time spent waiting for frames; InferenceDurationTotal the
	// summed model time over InferenceCount runs.
	IdleTime               time.Duration
	InferenceDurationTotal time.Duration
	InferenceCount         int
}

func (VADMetrics) MetricKind() Kind { return KindVAD }

// EOUMetrics measures one end-of-utterance decision.
type EOUMetrics struct {
	base

	// EndOfUtteranceDelay is the time from the user stopping speech to the
	// turn being committed; TranscriptionDelay the share of it spent
	// waiting for the final transcript.
	EndOfUtteranceDelay time.Duration
	TranscriptionDelay  time.Duration

	// OnUserTurnCompletedDelay is the time spent in the user turn callback.
	OnUserTurnCompletedDelay time.Duration
}

func (EOUMetrics) MetricKind() Kind { return KindEOU }

// NewEOUMetrics fills the shared fields.
func NewEOUMetrics(label, speechID string) EOUMetrics {
	return EOUMetrics{base: base{Timestamp: time.Now(), SpeechID: speechID, Label: label}}
}

// RealtimeModelMetrics measures one speech-to-speech generation.
type RealtimeModelMetrics struct {
	base

	Duration time.Duration
	TTFT     time.Duration

	Cancelled bool

	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	InputAudioTokens  int
	OutputAudioTokens int

	TokensPerSecond float64
}

func (RealtimeModelMetrics) MetricKind() Kind { return KindRealtimeModel }
