package llm

import (
	"context"
	"fmt"
	"sort"
)

// FunctionTool describes one callable tool offered to the model.
type FunctionTool struct {
	// Name uniquely identifies the tool within a ToolContext.
	Name string

	// Description explains what the tool does; it is included in prompts.
	Description string

	// Parameters is the JSON Schema of the tool's argument object.
	Parameters map[string]any

	// NoReply marks a fire-and-forget tool: its output is recorded in the
	// chat context, but no follow-up model reply is generated for it. A
	// batch still chains a reply when any executed tool expects one.
	NoReply bool

	// Execute runs the tool. rawArgs is the JSON-encoded argument object from
	// the model. The returned value is stringified into the function call
	// output; returning an [AgentHandoff] instead triggers an agent swap.
	//
	// ctx is cancelled when the owning speech is interrupted or the session
	// closes; long-running tools must honour it.
	Execute func(ctx context.Context, inv ToolInvocation) (any, error)
}

// ToolInvocation carries the per-call inputs to a tool executor.
type ToolInvocation struct {
	// CallID is the model-assigned id of this tool call.
	CallID string

	// RawArgs is the JSON-encoded argument object.
	RawArgs string
}

// AgentHandoff is returned by a tool to hand the session to another agent.
// The runtime interprets Agent; it is typed any here to keep the provider
// contract free of runtime imports.
type AgentHandoff struct {
	// Agent is the next agent to activate.
	Agent any

	// Returns is the tool output recorded in the chat context before the
	// swap, e.g. a short confirmation for the model.
	Returns string
}

// ToolContext is an immutable-per-turn mapping from tool name to tool.
type ToolContext struct {
	tools map[string]FunctionTool
}

// NewToolContext builds a ToolContext from tools. Duplicate names return an
// error.
func NewToolContext(tools ...FunctionTool) (*ToolContext, error) {
	tc := &ToolContext{tools: make(map[string]FunctionTool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("llm: tool with empty name")
		}
		if _, dup := tc.tools[t.Name]; dup {
			return nil, fmt.Errorf("llm: duplicate tool %q", t.Name)
		}
		tc.tools[t.Name] = t
	}
	return tc, nil
}

// Get returns the tool registered under name.
func (t *ToolContext) Get(name string) (FunctionTool, bool) {
	if t == nil {
		return FunctionTool{}, false
	}
	tool, ok := t.tools[name]
	return tool, ok
}

// Names returns the registered tool names in sorted order.
func (t *ToolContext) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.tools))
	for n := range t.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tools returns the tool definitions in name order, the shape providers
// serialize into their request payloads.
func (t *ToolContext) Tools() []FunctionTool {
	if t == nil {
		return nil
	}
	out := make([]FunctionTool, 0, len(t.tools))
	for _, n := range t.Names() {
		out = append(out, t.tools[n])
	}
	return out
}

// Len returns the number of registered tools.
func (t *ToolContext) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tools)
}
