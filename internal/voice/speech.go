package voice

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
)

// Speech priorities. Higher plays sooner; ties play in arrival order.
const (
	SpeechPriorityLow    = 0
	SpeechPriorityNormal = 5
	SpeechPriorityHigh   = 10
)

// Speech sources, reported in SpeechCreated events.
const (
	SourceSay       = "say"
	SourceGenerate  = "generate"
	SourceToolReply = "tool_reply"
)

// SpeechHandle represents one scheduled agent utterance from creation to the
// end of playout. Handles are created by the session verbs and owned by the
// activity that schedules them.
type SpeechHandle struct {
	id                 string
	priority           int
	allowInterruptions bool
	source             string

	// step is the depth in an LLM→tool→LLM chain; the root speech is 0.
	step   int
	parent *SpeechHandle

	// Inputs. text is set for say speeches; the generate fields otherwise.
	text         string
	userInput    string
	instructions string
	toolChoice   llm.ToolChoice

	// chatCtx is the conversation snapshot this speech generates against.
	chatCtx *llm.ChatContext

	// speculative, when set, is a preemptive generation stream consumed
	// instead of issuing a fresh chat call.
	speculative *llm.ChatStream

	// seq is the arrival order tiebreak, assigned at schedule time.
	seq uint64

	mu          sync.Mutex
	scheduled   bool
	interrupted bool
	startedAt   time.Time
	cancel      context.CancelFunc

	generationDone *async.Future[struct{}]
	playoutDone    *async.Future[struct{}]
}

func newSpeechHandle(source string, priority int, allowInterruptions bool) *SpeechHandle {
	return &SpeechHandle{
		id:                 async.ShortIDWith("speech"),
		priority:           priority,
		allowInterruptions: allowInterruptions,
		source:             source,
		generationDone:     async.NewFuture[struct{}](),
		playoutDone:        async.NewFuture[struct{}](),
	}
}

// ID returns the speech id.
func (h *SpeechHandle) ID() string { return h.id }

// Priority returns the scheduling priority.
func (h *SpeechHandle) Priority() int { return h.priority }

// AllowInterruptions reports whether the interruption policy may cut this
// speech short.
func (h *SpeechHandle) AllowInterruptions() bool { return h.allowInterruptions }

// Interrupted reports whether the speech was cut short.
func (h *SpeechHandle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// Done is closed when playout finished, whether complete or interrupted.
func (h *SpeechHandle) Done() <-chan struct{} { return h.playoutDone.Done() }

// WaitForPlayout blocks until playout finished or ctx expires.
func (h *SpeechHandle) WaitForPlayout(ctx context.Context) error {
	_, err := h.playoutDone.Wait(ctx)
	return err
}

// interrupt cancels the speech. Without force it refuses speeches that
// disallow interruptions. Returns whether the speech is now interrupted.
func (h *SpeechHandle) interrupt(force bool) bool {
	h.mu.Lock()
	if !h.allowInterruptions && !force {
		h.mu.Unlock()
		return false
	}
	h.interrupted = true
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// bindCancel ties the speech to its running task so interrupt can cancel it.
func (h *SpeechHandle) bindCancel(cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel = cancel
	if h.interrupted {
		// Interrupted before the task started.
		cancel()
	}
}

// markPlaying records the playout start, the reference point for the
// minimum-duration interruption gate.
func (h *SpeechHandle) markPlaying() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startedAt.IsZero() {
		h.startedAt = time.Now()
	}
}

// playedFor returns how long this speech has been playing, or 0 before
// playout started.
func (h *SpeechHandle) playedFor() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startedAt.IsZero() {
		return 0
	}
	return time.Since(h.startedAt)
}
