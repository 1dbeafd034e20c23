// Package voice runs one conversational agent session: it schedules agent
// speech, recognizes user turns from audio, drives the LLM/tool loop, and
// plays synthesized replies while keeping the transcript in sync.
package voice

import (
	"context"

	"github.com/MrWong99/cadenza/pkg/provider/llm"
)

// Agent is a user-defined role: instructions, tools, and lifecycle hooks.
// Agents are plain data; all runtime state lives in the activity serving
// them.
type Agent struct {
	// Name identifies the agent in logs and handoff records.
	Name string

	// Instructions is the system prompt prepended to every generation.
	Instructions string

	// Tools offered to the model. Nil disables tool calls.
	Tools *llm.ToolContext

	// ChatCtx seeds the agent's conversation when it first activates. Nil
	// starts empty. The session owns the context afterwards.
	ChatCtx *llm.ChatContext

	// OnEnter runs when the agent becomes active, before its first speech.
	// A typical hook greets the user via sess.Say.
	OnEnter func(ctx context.Context, sess *AgentSession)

	// OnExit runs when the agent is swapped out, after its last speech
	// finished playing.
	OnExit func(ctx context.Context, sess *AgentSession)
}
