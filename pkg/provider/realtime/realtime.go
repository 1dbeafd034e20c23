// Package realtime defines the contract for speech-to-speech backends: live
// voice models that accept raw audio and answer with synthesized audio in
// one stateful session, bypassing the separate STT, LLM and TTS stages.
//
// The central abstraction is Session: a long-lived, bidirectional exchange
// that carries audio, transcripts and tool calls concurrently and supports
// mid-session reconfiguration. Examples include the OpenAI Realtime API and
// Gemini Live.
//
// Implementations must be safe for concurrent use; a runtime may hold
// several sessions open at once.
package realtime

import (
	"context"
	"time"

	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// Capabilities describes static properties of a realtime model.
type Capabilities struct {
	// TurnDetection reports server-side voice activity detection. Without
	// it the caller segments turns itself and commits audio manually.
	TurnDetection bool

	// UserTranscription reports whether the model transcribes user audio
	// and emits EventInputTranscription.
	UserTranscription bool

	// AutoToolReplyGeneration reports whether the model starts a follow-up
	// generation on its own after tool outputs are submitted. When false
	// the caller triggers GenerateReply after updating the chat context.
	AutoToolReplyGeneration bool

	// AudioOutput reports spoken output. Text-only realtime models exist
	// and are driven the same way minus the audio streams.
	AudioOutput bool
}

// ConnectOptions is the initial configuration for a session.
type ConnectOptions struct {
	// Instructions is the system-level prompt.
	Instructions string

	// Voice is the provider-specific voice identifier; empty selects the
	// provider default.
	Voice string

	// ChatCtx seeds the session history; nil starts empty.
	ChatCtx *llm.ChatContext

	// ToolCtx is the tool set offered to the model; nil disables tools.
	ToolCtx *llm.ToolContext

	// ConnOptions governs timeouts and retries; zero value selects defaults.
	ConnOptions provider.ConnOptions
}

// EventType enumerates session events.
type EventType string

const (
	// EventInputSpeechStarted fires when the model detects the user
	// starting to speak. Only emitted with server-side turn detection.
	EventInputSpeechStarted EventType = "input_speech_started"

	// EventInputSpeechStopped fires when the model detects the user
	// finishing a turn.
	EventInputSpeechStopped EventType = "input_speech_stopped"

	// EventInputTranscription carries a transcript of user audio.
	EventInputTranscription EventType = "input_transcription"

	// EventGenerationCreated fires when the model starts producing a reply,
	// whether triggered by a detected turn or by GenerateReply.
	EventGenerationCreated EventType = "generation_created"

	// EventError carries a non-fatal session error. Fatal errors end the
	// event stream instead.
	EventError EventType = "error"
)

// InputTranscription is a transcript of user audio produced by the model.
type InputTranscription struct {
	// ItemID is the chat item the transcript belongs to.
	ItemID     string
	Transcript string
	IsFinal    bool
}

// MessageGeneration is one assistant message being produced. Text and Audio
// stream concurrently; Audio stays empty for text-only models.
type MessageGeneration struct {
	MessageID string
	Text      stream.Reader[string]
	Audio     stream.Reader[audio.AudioFrame]
}

// Generation is one model reply in progress. Messages and FunctionCalls end
// with io.EOF once the reply is complete.
type Generation struct {
	Messages      stream.Reader[MessageGeneration]
	FunctionCalls stream.Reader[llm.FunctionCall]

	// UserInitiated marks generations triggered by GenerateReply rather
	// than by a detected user turn.
	UserInitiated bool
}

// SessionEvent is one event emitted by a session. Exactly one payload field
// is set, matching Type.
type SessionEvent struct {
	Type          EventType
	Transcription *InputTranscription
	Generation    *Generation
	Err           error
}

// RealtimeModel is the abstraction over any speech-to-speech backend.
type RealtimeModel interface {
	// Label returns a short provider identifier for logs and metrics.
	Label() string

	Capabilities() Capabilities

	// Connect opens a session. The returned session accepts audio
	// immediately; the caller owns it and must call Close.
	Connect(ctx context.Context, opts ConnectOptions) (Session, error)
}

// Session is an open speech-to-speech exchange.
//
// Every method must return quickly; audio and event delivery are decoupled
// from network I/O. ReadEvent blocks until an event is available, the
// session ends (io.EOF), or ctx is cancelled.
type Session interface {
	// ReadEvent returns the next session event.
	ReadEvent(ctx context.Context) (SessionEvent, error)

	// PushAudio delivers one frame of user audio.
	PushAudio(frame audio.AudioFrame) error

	// CommitAudio marks the pushed audio as a complete user turn. Only
	// needed without server-side turn detection.
	CommitAudio() error

	// ClearAudio discards audio pushed since the last commit.
	ClearAudio() error

	// GenerateReply asks the model to reply now, with optional per-call
	// instructions layered over the session instructions. The resulting
	// generation is returned and also emitted as EventGenerationCreated
	// with UserInitiated set.
	GenerateReply(ctx context.Context, instructions string) (*Generation, error)

	// Interrupt cancels the in-flight generation and discards buffered
	// output audio.
	Interrupt() error

	// Truncate tells the model how much of message messageID was actually
	// played before an interruption, so the session history matches what
	// the user heard.
	Truncate(ctx context.Context, messageID string, audioEnd time.Duration) error

	// UpdateChatContext replaces the session history. Implementations diff
	// against the current remote state and apply only the changes.
	UpdateChatContext(ctx context.Context, chatCtx *llm.ChatContext) error

	// UpdateTools replaces the active tool set.
	UpdateTools(ctx context.Context, toolCtx *llm.ToolContext) error

	// UpdateInstructions replaces the system-level prompt, effective from
	// the next generation.
	UpdateInstructions(ctx context.Context, instructions string) error

	// StartUserActivity hints that the user started interacting (first
	// audio after silence). Models without server-side turn detection use
	// it to pre-empt a pending reply.
	StartUserActivity()

	// Close ends the session and releases resources. Idempotent.
	Close() error
}
