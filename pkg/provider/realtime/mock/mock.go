// Package mock provides test doubles for the realtime package interfaces.
//
// Use Model to verify connect configuration; use Session to script events
// and generations and to inspect pushed audio and control calls. The
// ScriptGeneration helper builds a complete Generation from plain text and
// frames.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
	"github.com/MrWong99/cadenza/pkg/provider/realtime"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// ConnectCall records a single invocation of Model.Connect.
type ConnectCall struct {
	Opts realtime.ConnectOptions
}

// Model is a mock implementation of realtime.RealtimeModel.
type Model struct {
	mu sync.Mutex

	// Name is returned by Label. Defaults to "mock" when empty.
	Name string

	// Caps is returned by Capabilities.
	Caps realtime.Capabilities

	// NextSession is the session returned by the next Connect call. If nil,
	// a new default Session is returned.
	NextSession realtime.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

var _ realtime.RealtimeModel = (*Model)(nil)

// Label implements realtime.RealtimeModel.
func (m *Model) Label() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

// Capabilities implements realtime.RealtimeModel.
func (m *Model) Capabilities() realtime.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Caps
}

// Connect records the call and returns NextSession (or a fresh default
// Session), ConnectErr.
func (m *Model) Connect(ctx context.Context, opts realtime.ConnectOptions) (realtime.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls = append(m.ConnectCalls, ConnectCall{Opts: opts})
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	if m.NextSession != nil {
		return m.NextSession, nil
	}
	return NewSession(), nil
}

// TruncateCall records a single invocation of Session.Truncate.
type TruncateCall struct {
	MessageID string
	AudioEnd  time.Duration
}

// Session is a mock implementation of realtime.Session. Tests script events
// with Emit and End; audio and control calls are recorded for inspection.
type Session struct {
	mu sync.Mutex

	// GenerateReplyFn, if set, computes the GenerateReply result. When nil,
	// GenerateReply returns an empty user-initiated generation.
	GenerateReplyFn func(instructions string) (*realtime.Generation, error)

	// PushAudioErr, if non-nil, is returned by every PushAudio call.
	PushAudioErr error

	// PushedFrames records every frame pushed, in order.
	PushedFrames []audio.AudioFrame

	// GenerateReplyCalls records the instructions of every GenerateReply
	// call in order.
	GenerateReplyCalls []string

	// TruncateCalls records every Truncate call in order.
	TruncateCalls []TruncateCall

	// ChatCtxUpdates, ToolCtxUpdates and InstructionUpdates record every
	// corresponding update call in order.
	ChatCtxUpdates     []*llm.ChatContext
	ToolCtxUpdates     []*llm.ToolContext
	InstructionUpdates []string

	// CommitCallCount, ClearCallCount, InterruptCallCount,
	// UserActivityCallCount and CloseCallCount count the respective calls.
	CommitCallCount       int
	ClearCallCount        int
	InterruptCallCount    int
	UserActivityCallCount int
	CloseCallCount        int

	events *stream.Pipe[realtime.SessionEvent]
}

var _ realtime.Session = (*Session)(nil)

// NewSession returns an empty scripted session.
func NewSession() *Session {
	return &Session{events: stream.NewPipe[realtime.SessionEvent](32)}
}

// Emit makes ev available to the next ReadEvent.
func (s *Session) Emit(ev realtime.SessionEvent) {
	_ = s.events.Write(context.Background(), ev)
}

// End terminates the event stream cleanly; subsequent ReadEvents return
// io.EOF.
func (s *Session) End() {
	s.events.CloseWrite()
}

// ReadEvent returns the next scripted event.
func (s *Session) ReadEvent(ctx context.Context) (realtime.SessionEvent, error) {
	return s.events.Read(ctx)
}

// PushAudio records the frame and returns PushAudioErr.
func (s *Session) PushAudio(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PushedFrames = append(s.PushedFrames, frame)
	return s.PushAudioErr
}

// CommitAudio records the call.
func (s *Session) CommitAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommitCallCount++
	return nil
}

// ClearAudio records the call.
func (s *Session) ClearAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearCallCount++
	return nil
}

// GenerateReply records the call and returns the scripted generation.
func (s *Session) GenerateReply(ctx context.Context, instructions string) (*realtime.Generation, error) {
	s.mu.Lock()
	s.GenerateReplyCalls = append(s.GenerateReplyCalls, instructions)
	fn := s.GenerateReplyFn
	s.mu.Unlock()

	if fn != nil {
		return fn(instructions)
	}
	gen := ScriptGeneration("m-"+async.ShortID(), nil, nil)
	gen.UserInitiated = true
	return gen, nil
}

// Interrupt records the call.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InterruptCallCount++
	return nil
}

// Truncate records the call.
func (s *Session) Truncate(ctx context.Context, messageID string, audioEnd time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TruncateCalls = append(s.TruncateCalls, TruncateCall{MessageID: messageID, AudioEnd: audioEnd})
	return nil
}

// UpdateChatContext records the call.
func (s *Session) UpdateChatContext(ctx context.Context, chatCtx *llm.ChatContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ChatCtxUpdates = append(s.ChatCtxUpdates, chatCtx)
	return nil
}

// UpdateTools records the call.
func (s *Session) UpdateTools(ctx context.Context, toolCtx *llm.ToolContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolCtxUpdates = append(s.ToolCtxUpdates, toolCtx)
	return nil
}

// UpdateInstructions records the call.
func (s *Session) UpdateInstructions(ctx context.Context, instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InstructionUpdates = append(s.InstructionUpdates, instructions)
	return nil
}

// StartUserActivity records the call.
func (s *Session) StartUserActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserActivityCallCount++
}

// Close records the call and ends the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.events.CloseWrite()
	return nil
}

// ScriptGeneration builds a finished Generation with one message streaming
// the given text pieces and frames, and no function calls.
func ScriptGeneration(messageID string, texts []string, frames []audio.AudioFrame) *realtime.Generation {
	msg := realtime.MessageGeneration{
		MessageID: messageID,
		Text:      stream.FromSlice(texts),
		Audio:     stream.FromSlice(frames),
	}
	return &realtime.Generation{
		Messages:      stream.FromSlice([]realtime.MessageGeneration{msg}),
		FunctionCalls: stream.FromSlice[llm.FunctionCall](nil),
	}
}
