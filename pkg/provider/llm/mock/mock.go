// Package mock provides a test double for the llm.LLM interface.
//
// Use LLM in unit tests to feed controlled chunk sequences without a live
// backend and to verify the requests the runtime sends. All fields are safe
// to set before first use; mutating them during a concurrent call is the
// caller's responsibility.
//
// Example:
//
//	m := &mock.LLM{
//	    Chunks: []llm.ChatChunk{{Delta: llm.ChoiceDelta{Content: "Hello!"}}},
//	}
//	stream, _ := m.Chat(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cadenza/pkg/provider/llm"
)

// ChatCall records a single invocation of Chat.
type ChatCall struct {
	Ctx context.Context
	Req llm.ChatRequest
}

// LLM is a mock implementation of llm.LLM.
type LLM struct {
	mu sync.Mutex

	// Name is returned from Label. Defaults to "mock".
	Name string

	// Chunks is the chunk sequence emitted by each Chat stream before it
	// closes cleanly.
	Chunks []llm.ChatChunk

	// ChunksFn, when set, supplies the chunk sequence per call and takes
	// precedence over Chunks. Useful for scripting different turns.
	ChunksFn func(call int) []llm.ChatChunk

	// Err, if non-nil, is returned from Chat instead of starting a stream.
	Err error

	// StreamErr, if non-nil, aborts the stream after Chunks were emitted.
	StreamErr error

	// Calls records every Chat invocation in order.
	Calls []ChatCall
}

var _ llm.LLM = (*LLM)(nil)

// Label implements llm.LLM.
func (m *LLM) Label() string {
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

// Chat implements llm.LLM.
func (m *LLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatStream, error) {
	m.mu.Lock()
	call := len(m.Calls)
	m.Calls = append(m.Calls, ChatCall{Ctx: ctx, Req: req})
	err := m.Err
	chunks := m.Chunks
	if m.ChunksFn != nil {
		chunks = m.ChunksFn(call)
	}
	streamErr := m.StreamErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	s, w := llm.NewChatStream(len(chunks) + 1)
	go func() {
		for _, c := range chunks {
			if werr := w.Write(ctx, c); werr != nil {
				return
			}
		}
		if streamErr != nil {
			w.Abort(streamErr)
			return
		}
		w.Close()
	}()
	return s, nil
}

// CallCount returns the number of Chat invocations so far.
func (m *LLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// SetErr atomically replaces Err. Used by tests that heal a failing provider
// while a background recovery probe is running.
func (m *LLM) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// SetChunks atomically replaces Chunks.
func (m *LLM) SetChunks(chunks []llm.ChatChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Chunks = chunks
}
