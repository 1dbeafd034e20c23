package voice

import (
	"github.com/MrWong99/cadenza/pkg/metrics"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
)

// UserState tracks what the user is doing, derived from STT activity.
type UserState string

const (
	UserStateListening UserState = "listening"
	UserStateSpeaking  UserState = "speaking"
	UserStateAway      UserState = "away"
)

// AgentState tracks what the agent is doing.
type AgentState string

const (
	AgentStateInitializing AgentState = "initializing"
	AgentStateListening    AgentState = "listening"
	AgentStateThinking     AgentState = "thinking"
	AgentStateSpeaking     AgentState = "speaking"
)

// CloseReason explains why a session ended.
type CloseReason string

const (
	CloseReasonUser  CloseReason = "user_closed"
	CloseReasonJob   CloseReason = "job_shutdown"
	CloseReasonError CloseReason = "error"
)

// EventKind tags session events.
type EventKind string

const (
	EventUserStateChanged      EventKind = "user_state_changed"
	EventAgentStateChanged     EventKind = "agent_state_changed"
	EventSpeechCreated         EventKind = "speech_created"
	EventUserInputTranscribed  EventKind = "user_input_transcribed"
	EventUserOverlap           EventKind = "user_overlap"
	EventConversationItemAdded EventKind = "conversation_item_added"
	EventMetricsCollected      EventKind = "metrics_collected"
	EventClose                 EventKind = "close"
)

// Event is one session notification. Subscribers read them from
// [AgentSession.Events]; after the Close event no further events arrive.
type Event interface {
	Kind() EventKind
}

type UserStateChanged struct {
	Old UserState
	New UserState
}

func (UserStateChanged) Kind() EventKind { return EventUserStateChanged }

type AgentStateChanged struct {
	Old AgentState
	New AgentState
}

func (AgentStateChanged) Kind() EventKind { return EventAgentStateChanged }

type SpeechCreated struct {
	Speech *SpeechHandle
	// Source is what created the speech: say, generate, or tool_reply.
	Source string
}

func (SpeechCreated) Kind() EventKind { return EventSpeechCreated }

type UserInputTranscribed struct {
	Transcript string
	IsFinal    bool
	Language   string
}

func (UserInputTranscribed) Kind() EventKind { return EventUserInputTranscribed }

// UserOverlap reports user speech over agent playout that the configured
// [OverlapClassifier] judged a backchannel, leaving the agent talking.
type UserOverlap struct {
	Transcript string
}

func (UserOverlap) Kind() EventKind { return EventUserOverlap }

type ConversationItemAdded struct {
	Item llm.Item
}

func (ConversationItemAdded) Kind() EventKind { return EventConversationItemAdded }

type MetricsCollected struct {
	Record metrics.Record
}

func (MetricsCollected) Kind() EventKind { return EventMetricsCollected }

type Close struct {
	Reason CloseReason
	Err    error
}

func (Close) Kind() EventKind { return EventClose }
