package llm

import (
	"context"

	"github.com/MrWong99/cadenza/pkg/provider"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// ToolChoice steers the model's use of tools for one request.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide (the default).
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
)

// Usage holds token accounting for one completed chat call. Counts are in
// the model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCallDelta is an incremental tool invocation fragment inside a chunk.
// Args may arrive across several chunks for the same CallID; consumers
// accumulate by call id.
type ToolCallDelta struct {
	CallID string
	Name   string
	Args   string
}

// ChoiceDelta is the incremental payload of one chunk.
type ChoiceDelta struct {
	// Role is set on the first chunk of a generation.
	Role Role

	// Content is the incremental assistant text, possibly empty.
	Content string

	// ToolCalls carries tool invocation fragments.
	ToolCalls []ToolCallDelta
}

// ChatChunk is one streamed fragment of a chat completion.
type ChatChunk struct {
	// ID identifies the generation this chunk belongs to.
	ID string

	Delta ChoiceDelta

	// Usage is set on the final chunk when the provider reports it.
	Usage *Usage
}

// ChatRequest carries everything the model needs for one generation.
type ChatRequest struct {
	// ChatCtx is the conversation snapshot. The adapter serializes items in
	// insertion order.
	ChatCtx *ChatContext

	// ToolCtx is the tool set offered to the model; nil disables tools.
	ToolCtx *ToolContext

	// ToolChoice defaults to ToolChoiceAuto when empty.
	ToolChoice ToolChoice

	// ConnOptions governs the attempt timeout and retry schedule. The zero
	// value selects provider.DefaultConnOptions.
	ConnOptions provider.ConnOptions

	// Extra carries provider-specific parameters (temperature overrides,
	// response formats); implementations ignore keys they do not know.
	Extra map[string]any
}

// ChatStream is the consumer side of one generation. The stream ends with
// io.EOF after the final chunk, or with a typed provider error.
type ChatStream struct {
	pipe *stream.Pipe[ChatChunk]
}

// NewChatStream returns a stream and its producer side. Implementations of
// [LLM] write chunks through the returned writer and close or abort it when
// generation ends.
func NewChatStream(capacity int) (*ChatStream, *ChatStreamWriter) {
	p := stream.NewPipe[ChatChunk](capacity)
	return &ChatStream{pipe: p}, &ChatStreamWriter{pipe: p}
}

// Read returns the next chunk, io.EOF at clean end of generation, or the
// error that terminated the stream.
func (s *ChatStream) Read(ctx context.Context) (ChatChunk, error) {
	return s.pipe.Read(ctx)
}

// ChatStreamWriter is the producer side handed to LLM implementations.
type ChatStreamWriter struct {
	pipe *stream.Pipe[ChatChunk]
}

// Write emits one chunk, blocking while the consumer is behind.
func (w *ChatStreamWriter) Write(ctx context.Context, c ChatChunk) error {
	return w.pipe.Write(ctx, c)
}

// Close ends the stream cleanly.
func (w *ChatStreamWriter) Close() { w.pipe.CloseWrite() }

// Abort terminates the stream with err.
func (w *ChatStreamWriter) Abort(err error) { w.pipe.Abort(err) }

// LLM is the abstraction over any chat model backend.
//
// Implementations must be safe for concurrent use; each Chat call is an
// independent generation. The returned stream must be closed (or aborted
// with a typed provider error) by the implementation, and must stop emitting
// once ctx is cancelled.
type LLM interface {
	// Label returns a short provider identifier used in logs and metrics
	// (e.g. "openai/gpt-4.1").
	Label() string

	// Chat starts one streaming generation. A non-nil error means the stream
	// could not be started; errors after the first chunk surface through the
	// stream itself.
	Chat(ctx context.Context, req ChatRequest) (*ChatStream, error)
}
