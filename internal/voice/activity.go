package voice

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
)

// ErrSchedulingPaused is returned by schedule while a handoff is in flight
// and the speech was not forced.
var ErrSchedulingPaused = errors.New("voice: speech scheduling is paused")

// ErrActivityClosed is returned by schedule after the activity closed.
var ErrActivityClosed = errors.New("voice: activity is closed")

// speechHeap orders speeches by priority (higher first), arrival order
// breaking ties.
type speechHeap []*SpeechHandle

func (h speechHeap) Len() int { return len(h) }
func (h speechHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h speechHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *speechHeap) Push(x any) { *h = append(*h, x.(*SpeechHandle)) }

func (h *speechHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// speculativeGeneration is a preemptively started LLM call awaiting the
// final transcript.
type speculativeGeneration struct {
	userText string
	chatCtx  *llm.ChatContext
	stream   *llm.ChatStream
	cancel   context.CancelFunc
}

// AgentActivity binds one Agent to the session: it owns the agent's live
// conversation, schedules its speeches, and plays them one at a time.
type AgentActivity struct {
	session *AgentSession
	agent   *Agent

	// chatCtx is the agent's live conversation. Guarded by mu; snapshots
	// are taken with Copy before every model call.
	chatCtx *llm.ChatContext

	mu       sync.Mutex
	queue    speechHeap
	seq      uint64
	current  *SpeechHandle
	qUpdated chan struct{}
	paused   bool
	draining bool
	closed   bool

	spec *speculativeGeneration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAgentActivity(s *AgentSession, agent *Agent) *AgentActivity {
	chatCtx := llm.NewChatContext()
	if agent.ChatCtx != nil {
		chatCtx = agent.ChatCtx.Copy()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AgentActivity{
		session:  s,
		agent:    agent,
		chatCtx:  chatCtx,
		qUpdated: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Agent returns the agent this activity serves.
func (a *AgentActivity) Agent() *Agent { return a.agent }

// ChatContext returns a snapshot of the live conversation.
func (a *AgentActivity) ChatContext() *llm.ChatContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatCtx.Copy()
}

// snapshotWithUser returns a conversation snapshot with an optional extra
// user message appended.
func (a *AgentActivity) snapshotWithUser(userText string) *llm.ChatContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := a.chatCtx.Copy()
	if userText != "" {
		cp.AddMessage(llm.RoleUser, userText)
	}
	return cp
}

// appendItems adds items to the live conversation and reports them.
func (a *AgentActivity) appendItems(items ...llm.Item) {
	a.mu.Lock()
	a.chatCtx.Append(items...)
	a.mu.Unlock()
	for _, it := range items {
		a.session.emit(ConversationItemAdded{Item: it})
	}
}

// start launches the scheduler loop.
func (a *AgentActivity) start() {
	a.wg.Add(1)
	go a.mainTask()
}

// mainTask plays one speech at a time: highest priority first, FIFO within a
// priority. Interrupted speeches are dropped without playing.
func (a *AgentActivity) mainTask() {
	defer a.wg.Done()
	for {
		h, ok := a.nextSpeech()
		if !ok {
			return
		}
		if h.Interrupted() {
			h.generationDone.Resolve(struct{}{})
			h.playoutDone.Resolve(struct{}{})
			a.signal()
			continue
		}
		a.setCurrent(h)
		a.runSpeech(h)
		a.setCurrent(nil)
		a.signal()
	}
}

// nextSpeech blocks until a speech is ready or the activity is cancelled.
func (a *AgentActivity) nextSpeech() (*SpeechHandle, bool) {
	for {
		a.mu.Lock()
		if len(a.queue) > 0 {
			h := heap.Pop(&a.queue).(*SpeechHandle)
			a.mu.Unlock()
			return h, true
		}
		wait := a.qUpdated
		a.mu.Unlock()
		select {
		case <-wait:
		case <-a.ctx.Done():
			return nil, false
		}
	}
}

func (a *AgentActivity) setCurrent(h *SpeechHandle) {
	a.mu.Lock()
	a.current = h
	a.mu.Unlock()
}

// currentSpeech returns the speech being played, or nil.
func (a *AgentActivity) currentSpeech() *SpeechHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// signal wakes everything waiting on queue state.
func (a *AgentActivity) signal() {
	a.mu.Lock()
	close(a.qUpdated)
	a.qUpdated = make(chan struct{})
	a.mu.Unlock()
}

// schedule enqueues a speech. force bypasses the paused gate (used for
// tool-chain replies that must finish their turn during a handoff).
func (a *AgentActivity) schedule(h *SpeechHandle, force bool) error {
	a.mu.Lock()
	if a.closed || (a.draining && !force) {
		a.mu.Unlock()
		return ErrActivityClosed
	}
	if a.paused && !force {
		a.mu.Unlock()
		return ErrSchedulingPaused
	}
	a.seq++
	h.seq = a.seq
	h.mu.Lock()
	h.scheduled = true
	h.mu.Unlock()
	heap.Push(&a.queue, h)
	a.mu.Unlock()
	a.signal()
	a.session.observer.RecordSpeech(a.session.ctx, h.source)
	a.session.emit(SpeechCreated{Speech: h, Source: h.source})
	return nil
}

// pauseScheduling stops accepting non-forced speeches, for the handoff
// window.
func (a *AgentActivity) pauseScheduling() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = true
}

func (a *AgentActivity) resumeScheduling() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = false
}

// takeQueued removes and returns all pending speeches, for forwarding to a
// successor activity.
func (a *AgentActivity) takeQueued() []*SpeechHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*SpeechHandle, 0, len(a.queue))
	for len(a.queue) > 0 {
		out = append(out, heap.Pop(&a.queue).(*SpeechHandle))
	}
	return out
}

// handleInterruptSignal applies the interruption gate to a VAD or transcript
// signal. text is empty for bare voice-activity signals. Returns whether the
// current speech was interrupted.
func (a *AgentActivity) handleInterruptSignal(text string) bool {
	opts := a.session.opts
	cur := a.currentSpeech()
	if cur == nil {
		return false
	}
	if !opts.AllowInterruptions || !cur.allowInterruptions {
		return false
	}
	if opts.MinInterruptionWords > 0 && len(SplitWords(text)) < opts.MinInterruptionWords {
		// Too short to count as an interruption; a speculative generation
		// started from it is stale too.
		a.cancelSpeculative()
		return false
	}
	if cur.playedFor() < opts.MinInterruptionDuration {
		return false
	}
	if cl := opts.Classifier; cl != nil && !cl.IsInterruption(text, cur.playedFor()) {
		a.session.emit(UserOverlap{Transcript: text})
		return false
	}
	if !cur.interrupt(false) {
		return false
	}
	a.session.observer.Interruptions.Add(a.session.ctx, 1)
	if out := a.session.io.Output; out != nil {
		out.ClearBuffer()
	}
	return true
}

// interrupt cancels the current speech and everything queued. The returned
// future resolves when the current playout has stopped.
func (a *AgentActivity) interrupt(force bool) *async.Future[struct{}] {
	fut := async.NewFuture[struct{}]()
	a.mu.Lock()
	cur := a.current
	queued := make([]*SpeechHandle, len(a.queue))
	copy(queued, a.queue)
	a.mu.Unlock()

	for _, h := range queued {
		h.interrupt(force)
	}
	if cur == nil {
		fut.Resolve(struct{}{})
		return fut
	}
	if !cur.interrupt(force) {
		// Uninterruptible; resolve when it finishes naturally.
		go func() {
			<-cur.Done()
			fut.Resolve(struct{}{})
		}()
		return fut
	}
	if out := a.session.io.Output; out != nil {
		out.ClearBuffer()
	}
	go func() {
		<-cur.Done()
		fut.Resolve(struct{}{})
	}()
	return fut
}

// ─── preemptive generation ───

// startSpeculative launches an LLM call against the interim transcript so
// the reply is already streaming if the final transcript matches.
func (a *AgentActivity) startSpeculative(userText string) {
	if a.session.prov.LLM == nil || userText == "" {
		return
	}
	a.mu.Lock()
	if a.spec != nil || a.closed {
		a.mu.Unlock()
		return
	}
	chatCtx := a.chatCtx.Copy()
	a.mu.Unlock()
	chatCtx.AddMessage(llm.RoleUser, userText)

	ctx, cancel := context.WithCancel(a.ctx)
	cs, err := a.session.prov.LLM.Chat(ctx, llm.ChatRequest{
		ChatCtx: chatCtx,
		ToolCtx: a.agent.Tools,
	})
	if err != nil {
		cancel()
		return
	}
	a.mu.Lock()
	if a.spec != nil || a.closed {
		a.mu.Unlock()
		cancel()
		return
	}
	a.spec = &speculativeGeneration{
		userText: userText,
		chatCtx:  chatCtx,
		stream:   cs,
		cancel:   cancel,
	}
	a.mu.Unlock()
}

// takeSpeculative returns the speculative stream if it was generated from
// exactly finalText, cancelling it otherwise. The mismatched partial output
// is discarded, never fed back as history.
func (a *AgentActivity) takeSpeculative(finalText string) *speculativeGeneration {
	a.mu.Lock()
	spec := a.spec
	a.spec = nil
	a.mu.Unlock()
	if spec == nil {
		return nil
	}
	if spec.userText != finalText {
		spec.cancel()
		return nil
	}
	return spec
}

func (a *AgentActivity) cancelSpeculative() {
	a.mu.Lock()
	spec := a.spec
	a.spec = nil
	a.mu.Unlock()
	if spec != nil {
		spec.cancel()
	}
}

// ─── drain and close ───

// drain stops accepting new speeches and waits until everything queued has
// played out.
func (a *AgentActivity) drain(ctx context.Context) error {
	a.mu.Lock()
	a.draining = true
	a.mu.Unlock()
	for {
		a.mu.Lock()
		idle := len(a.queue) == 0 && a.current == nil
		wait := a.qUpdated
		a.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ctx.Done():
			return nil
		}
	}
}

// close cancels the scheduler and all speech tasks. Idempotent.
func (a *AgentActivity) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	queued := make([]*SpeechHandle, len(a.queue))
	copy(queued, a.queue)
	a.queue = a.queue[:0]
	a.mu.Unlock()

	a.cancelSpeculative()
	for _, h := range queued {
		h.interrupt(true)
		h.generationDone.Resolve(struct{}{})
		h.playoutDone.Resolve(struct{}{})
	}
	a.cancel()
	a.wg.Wait()
}
