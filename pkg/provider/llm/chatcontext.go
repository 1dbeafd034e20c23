// Package llm defines the contract between the Cadenza runtime and Large
// Language Model backends: the chat context data model, function tools, the
// streaming chat interface, and a multi-provider fallback adapter.
//
// Implementors wrap a concrete SDK behind [LLM]; the runtime only ever sees
// [ChatContext] snapshots going in and [ChatChunk] values coming out.
package llm

import (
	"errors"
	"fmt"

	"github.com/MrWong99/cadenza/pkg/async"
)

// ItemKind discriminates the chat context item variants.
type ItemKind string

const (
	ItemKindMessage            ItemKind = "message"
	ItemKindFunctionCall       ItemKind = "function_call"
	ItemKindFunctionCallOutput ItemKind = "function_call_output"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one element of a message's content: plain text or an image
// reference.
type ContentPart interface{ isContentPart() }

// TextPart is a plain-text content part.
type TextPart struct {
	Text string
}

func (TextPart) isContentPart() {}

// ImagePart references an image by URL or data URI.
type ImagePart struct {
	URL string
}

func (ImagePart) isContentPart() {}

// Item is one entry of a [ChatContext]: a message, a function call, or a
// function call output.
type Item interface {
	Kind() ItemKind
	// ItemID returns the stable id of the item, if one was assigned.
	ItemID() string
	clone() Item
}

// Message is a conversational turn with a role and ordered content parts.
type Message struct {
	// ID is an optional stable identifier, preserved across copies.
	ID      string
	Role    Role
	Content []ContentPart

	// Interrupted marks an assistant message whose playout was cut short; the
	// text reflects only what was actually spoken.
	Interrupted bool
}

func (m *Message) Kind() ItemKind { return ItemKindMessage }
func (m *Message) ItemID() string { return m.ID }

func (m *Message) clone() Item {
	cp := *m
	cp.Content = make([]ContentPart, len(m.Content))
	copy(cp.Content, m.Content)
	return &cp
}

// Text returns the concatenated text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Content {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// NewMessage builds a Message with a single text part and a fresh item id.
func NewMessage(role Role, text string) *Message {
	return &Message{
		ID:      async.ShortIDWith("item"),
		Role:    role,
		Content: []ContentPart{TextPart{Text: text}},
	}
}

// FunctionCall records the model requesting a tool invocation.
type FunctionCall struct {
	ID     string
	CallID string
	Name   string
	// Args is the JSON-encoded argument object.
	Args string
}

func (f *FunctionCall) Kind() ItemKind { return ItemKindFunctionCall }
func (f *FunctionCall) ItemID() string { return f.ID }
func (f *FunctionCall) clone() Item    { cp := *f; return &cp }

// FunctionCallOutput records the result of executing a tool call.
type FunctionCallOutput struct {
	ID     string
	CallID string
	Name   string
	Output string
	// IsError marks tool failures so the model can react to them.
	IsError bool
}

func (f *FunctionCallOutput) Kind() ItemKind { return ItemKindFunctionCallOutput }
func (f *FunctionCallOutput) ItemID() string { return f.ID }
func (f *FunctionCallOutput) clone() Item    { cp := *f; return &cp }

// ChatContext is the ordered conversation history handed to an LLM. Items are
// appended during a turn and snapshotted with [ChatContext.Copy] before each
// model call. Insertion order is preserved across copies and serialization.
//
// ChatContext is not safe for concurrent mutation; the owning activity
// serializes access.
type ChatContext struct {
	items []Item
}

// NewChatContext returns an empty chat context.
func NewChatContext() *ChatContext {
	return &ChatContext{}
}

// Items returns the backing item slice. Callers must treat it as read-only.
func (c *ChatContext) Items() []Item {
	return c.items
}

// Len returns the number of items.
func (c *ChatContext) Len() int { return len(c.items) }

// Append adds items to the end of the context, preserving order.
func (c *ChatContext) Append(items ...Item) {
	c.items = append(c.items, items...)
}

// AddMessage appends a new message with a single text part and returns it.
func (c *ChatContext) AddMessage(role Role, text string) *Message {
	m := NewMessage(role, text)
	c.Append(m)
	return m
}

// Copy returns a deep copy. Appending to the copy never mutates the original.
func (c *ChatContext) Copy() *ChatContext {
	cp := &ChatContext{items: make([]Item, len(c.items))}
	for i, it := range c.items {
		cp.items[i] = it.clone()
	}
	return cp
}

// Validate checks the call-id invariant: every function call output must
// reference a function call that appears earlier in the context.
func (c *ChatContext) Validate() error {
	calls := make(map[string]bool)
	var errs []error
	for _, it := range c.items {
		switch v := it.(type) {
		case *FunctionCall:
			calls[v.CallID] = true
		case *FunctionCallOutput:
			if !calls[v.CallID] {
				errs = append(errs, fmt.Errorf("llm: output %q has no matching prior call", v.CallID))
			}
		}
	}
	return errors.Join(errs...)
}

// LastMessage returns the most recent message item, or nil.
func (c *ChatContext) LastMessage() *Message {
	for i := len(c.items) - 1; i >= 0; i-- {
		if m, ok := c.items[i].(*Message); ok {
			return m
		}
	}
	return nil
}

// Truncate keeps only the last n items, preserving any leading system or
// developer messages. Used to bound realtime-session context updates.
func (c *ChatContext) Truncate(n int) {
	if len(c.items) <= n {
		return
	}
	var lead []Item
	for _, it := range c.items {
		m, ok := it.(*Message)
		if !ok || (m.Role != RoleSystem && m.Role != RoleDeveloper) {
			break
		}
		lead = append(lead, it)
	}
	tail := c.items[len(c.items)-n:]
	c.items = append(append([]Item{}, lead...), tail...)
}
