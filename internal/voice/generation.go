package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/history"
	"github.com/MrWong99/cadenza/pkg/metrics"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
	"github.com/MrWong99/cadenza/pkg/stream"
	"github.com/MrWong99/cadenza/pkg/transcription"
)

// runSpeech drives one speech from generation through the end of playout.
func (a *AgentActivity) runSpeech(h *SpeechHandle) {
	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	h.bindCancel(cancel)
	defer h.playoutDone.Resolve(struct{}{})
	defer h.generationDone.Resolve(struct{}{})

	var err error
	if h.source == SourceSay {
		err = a.runSay(ctx, h)
	} else {
		err = a.runGeneration(ctx, h)
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("voice: speech failed", "speech_id", h.id, "error", err)
	}
}

// runSay plays pre-written text.
func (a *AgentActivity) runSay(ctx context.Context, h *SpeechHandle) error {
	a.session.setAgentState(AgentStateSpeaking)
	defer a.session.setAgentState(AgentStateListening)

	played, dur, err := a.playText(ctx, h, h.text)
	if err != nil && ctx.Err() == nil {
		return err
	}
	interrupted := h.Interrupted()
	final := h.text
	if interrupted {
		final = played
	}
	if final != "" {
		msg := llm.NewMessage(llm.RoleAssistant, final)
		msg.Interrupted = interrupted
		a.appendItems(msg)
		a.session.appendHistory(history.Entry{
			Role:        history.RoleAgent,
			AgentName:   a.agent.Name,
			Text:        final,
			Interrupted: interrupted,
			Duration:    dur,
		})
	}
	return nil
}

// runGeneration runs one LLM turn: stream the reply into synthesis while
// collecting tool calls, then execute the tool batch and chain a follow-up
// reply.
func (a *AgentActivity) runGeneration(ctx context.Context, h *SpeechHandle) error {
	a.session.setAgentState(AgentStateThinking)
	defer a.session.setAgentState(AgentStateListening)

	chatCtx := h.chatCtx
	if chatCtx == nil {
		chatCtx = a.snapshotWithUser(h.userInput)
		if h.userInput != "" {
			a.appendItems(llm.NewMessage(llm.RoleUser, h.userInput))
		}
	}
	withSystem := a.withInstructions(chatCtx, h.instructions)

	toolCtx := a.agent.Tools
	toolChoice := h.toolChoice
	if h.step >= a.session.opts.MaxToolSteps {
		// Chain budget exhausted; this turn must answer in plain text.
		toolCtx = nil
		toolChoice = llm.ToolChoiceNone
	}

	lm := metrics.NewLLMMetrics(a.session.prov.LLM.Label(), "", h.id)
	start := time.Now()
	cs := h.speculative
	if cs == nil {
		var err error
		cs, err = a.session.prov.LLM.Chat(ctx, llm.ChatRequest{
			ChatCtx:    withSystem,
			ToolCtx:    toolCtx,
			ToolChoice: toolChoice,
		})
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
	}

	// The LLM reader feeds text into the pipe; the playout side consumes
	// the transformed stream.
	textPipe := stream.NewPipe[string](32)
	acc := &toolCallAccumulator{}
	var fullText string
	readerDone := make(chan error, 1)
	go func() {
		first := true
		for {
			chunk, err := cs.Read(ctx)
			if err == io.EOF {
				textPipe.CloseWrite()
				readerDone <- nil
				return
			}
			if err != nil {
				textPipe.Abort(err)
				readerDone <- err
				return
			}
			if first {
				first = false
				lm.TTFT = time.Since(start)
			}
			if lm.RequestID == "" {
				lm.RequestID = chunk.ID
			}
			if chunk.Usage != nil {
				lm.PromptTokens = chunk.Usage.PromptTokens
				lm.CompletionTokens = chunk.Usage.CompletionTokens
				lm.TotalTokens = chunk.Usage.TotalTokens
			}
			for _, tc := range chunk.Delta.ToolCalls {
				acc.add(tc)
			}
			if chunk.Delta.Content != "" {
				fullText += chunk.Delta.Content
				if werr := textPipe.Write(ctx, chunk.Delta.Content); werr != nil {
					readerDone <- werr
					return
				}
			}
		}
	}()

	played, dur, playErr := a.playTextStream(ctx, h, textPipe)
	readErr := <-readerDone

	interrupted := h.Interrupted()
	lm.Duration = time.Since(start)
	lm.Cancelled = interrupted
	if gen := lm.Duration - lm.TTFT; gen > 0 && lm.CompletionTokens > 0 {
		lm.TokensPerSecond = float64(lm.CompletionTokens) / gen.Seconds()
	}
	a.session.recordMetric(lm)

	if readErr != nil && ctx.Err() == nil {
		return fmt.Errorf("chat stream: %w", readErr)
	}
	if playErr != nil && ctx.Err() == nil {
		return playErr
	}

	final := fullText
	if interrupted {
		final = played
	}
	if final != "" {
		msg := llm.NewMessage(llm.RoleAssistant, final)
		msg.Interrupted = interrupted
		a.appendItems(msg)
		a.session.appendHistory(history.Entry{
			Role:        history.RoleAgent,
			AgentName:   a.agent.Name,
			Text:        final,
			Interrupted: interrupted,
			Duration:    dur,
		})
	}

	if calls := acc.calls(); len(calls) > 0 && !interrupted {
		a.runToolBatch(ctx, h, chatCtx, calls)
	}
	return nil
}

// withInstructions prepends the agent instructions (and per-speech extra
// instructions) as a system message on the request snapshot.
func (a *AgentActivity) withInstructions(chatCtx *llm.ChatContext, extra string) *llm.ChatContext {
	sys := a.agent.Instructions
	if extra != "" {
		if sys != "" {
			sys += "\n\n"
		}
		sys += extra
	}
	if sys == "" {
		return chatCtx
	}
	out := llm.NewChatContext()
	out.AddMessage(llm.RoleSystem, sys)
	out.Append(chatCtx.Items()...)
	return out
}

// ─── playout ───

// playText synthesizes and plays one complete text.
func (a *AgentActivity) playText(ctx context.Context, h *SpeechHandle, text string) (played string, dur time.Duration, err error) {
	return a.playTextStream(ctx, h, stream.FromSlice([]string{text}))
}

// playTextStream pipes text through the configured transforms into TTS and
// plays the audio, keeping the transcript synchronizer in lockstep. It
// returns the transcript portion that actually played.
func (a *AgentActivity) playTextStream(ctx context.Context, h *SpeechHandle, text stream.Reader[string]) (played string, dur time.Duration, err error) {
	s := a.session
	if len(s.opts.TTSTransforms) > 0 {
		text = transcription.Chain(s.opts.TTSTransforms...)(text)
	}
	if s.prov.TTS == nil || s.io.Output == nil {
		// Text-only session: the transcript "plays" instantly.
		var sb []string
		sb, err = stream.Collect(ctx, text)
		h.markPlaying()
		for _, piece := range sb {
			played += piece
		}
		return played, 0, err
	}

	aligned := s.opts.UseTTSAlignedTranscript && s.prov.TTS.Capabilities().AlignedTranscript
	tsync := transcription.NewSynchronizer(transcription.SynchronizerOptions{
		SpeakingRate: s.opts.SpeakingRate,
	})

	tm := metrics.NewTTSMetrics(s.prov.TTS.Label(), "", h.id)
	tm.Streamed = true
	start := time.Now()

	ts, err := s.prov.TTS.Stream(ctx, s.synthesizeOptions())
	if err != nil {
		return "", 0, fmt.Errorf("tts stream: %w", err)
	}
	defer ts.Close()

	// Feed transformed text into synthesis.
	pushDone := make(chan error, 1)
	go func() {
		for {
			piece, rerr := text.Read(ctx)
			if rerr == io.EOF {
				pushDone <- ts.EndInput()
				return
			}
			if rerr != nil {
				pushDone <- rerr
				return
			}
			tm.CharacterCount += len(piece)
			if !aligned {
				tsync.PushText(piece)
			}
			if perr := ts.PushText(piece); perr != nil {
				pushDone <- perr
				return
			}
		}
	}()

	var playedAudio time.Duration
	first := true
	for {
		chunk, rerr := ts.Read(ctx)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			<-pushDone
			return tsync.Emitted(), playedAudio, fmt.Errorf("tts read: %w", rerr)
		}
		if first {
			first = false
			tm.TTFB = time.Since(start)
			tm.RequestID = chunk.RequestID
			h.markPlaying()
			s.setAgentState(AgentStateSpeaking)
		}
		if aligned {
			for _, w := range chunk.Timed {
				tsync.PushTimed(w)
			}
		}
		if werr := s.io.Output.Write(ctx, chunk.Frame); werr != nil {
			<-pushDone
			return tsync.Emitted(), playedAudio, fmt.Errorf("audio out: %w", werr)
		}
		playedAudio += chunk.Frame.Duration()
		tsync.Advance(playedAudio)
	}
	perr := <-pushDone

	interrupted := h.Interrupted()
	if !interrupted {
		tsync.Finish()
	}
	tm.Duration = time.Since(start)
	tm.AudioDuration = playedAudio
	tm.Cancelled = interrupted
	s.recordMetric(tm)

	if perr != nil && ctx.Err() == nil {
		return tsync.Emitted(), playedAudio, fmt.Errorf("tts push: %w", perr)
	}
	return tsync.Emitted(), playedAudio, nil
}

// ─── tool calls ───

// toolCallAccumulator folds streamed tool-call deltas by call id, keeping
// arrival order.
type toolCallAccumulator struct {
	order []string
	byID  map[string]*llm.FunctionCall
}

func (t *toolCallAccumulator) add(d llm.ToolCallDelta) {
	if t.byID == nil {
		t.byID = make(map[string]*llm.FunctionCall)
	}
	fc, ok := t.byID[d.CallID]
	if !ok {
		fc = &llm.FunctionCall{ID: async.ShortIDWith("item"), CallID: d.CallID}
		t.byID[d.CallID] = fc
		t.order = append(t.order, d.CallID)
	}
	if d.Name != "" {
		fc.Name = d.Name
	}
	fc.Args += d.Args
}

func (t *toolCallAccumulator) calls() []*llm.FunctionCall {
	out := make([]*llm.FunctionCall, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// runToolBatch executes one batch of tool calls and, unless a handoff or the
// chain budget ends it, schedules the follow-up reply speech.
func (a *AgentActivity) runToolBatch(ctx context.Context, h *SpeechHandle, chatCtx *llm.ChatContext, calls []*llm.FunctionCall) {
	callItems := make([]llm.Item, len(calls))
	for i, c := range calls {
		callItems[i] = c
	}
	a.appendItems(callItems...)
	chatCtx.Append(callItems...)

	outputs, next := a.executeTools(ctx, calls)
	outItems := make([]llm.Item, len(outputs))
	for i, o := range outputs {
		outItems[i] = o
	}
	a.appendItems(outItems...)
	chatCtx.Append(outItems...)

	if next != nil {
		// The new agent answers instead of chaining a reply here.
		go func() {
			if err := a.session.UpdateAgent(next); err != nil {
				slog.Error("voice: tool handoff failed", "agent", next.Name, "error", err)
			}
		}()
		return
	}
	if h.step >= a.session.opts.MaxToolSteps {
		return
	}
	if !a.replyExpected(calls) {
		return
	}
	child := newSpeechHandle(SourceToolReply, h.priority, h.allowInterruptions)
	child.parent = h
	child.step = h.step + 1
	child.chatCtx = chatCtx
	if err := a.schedule(child, true); err != nil {
		slog.Warn("voice: tool reply not scheduled", "error", err)
	}
}

// replyExpected reports whether any call in the batch hit a tool that wants
// a chained reply. Unknown tools count as reply-expecting so the model can
// correct itself.
func (a *AgentActivity) replyExpected(calls []*llm.FunctionCall) bool {
	for _, call := range calls {
		tool, ok := a.agent.Tools.Get(call.Name)
		if !ok || !tool.NoReply {
			return true
		}
	}
	return false
}

// executeTools runs every call concurrently and returns outputs in call
// order, one output per call. At most one handoff is honoured; further
// handoffs in the same batch become error outputs.
func (a *AgentActivity) executeTools(ctx context.Context, calls []*llm.FunctionCall) ([]*llm.FunctionCallOutput, *Agent) {
	outputs := make([]*llm.FunctionCallOutput, len(calls))
	var (
		mu   sync.Mutex
		next *Agent
		wg   sync.WaitGroup
	)
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := &llm.FunctionCallOutput{
				ID:     async.ShortIDWith("item"),
				CallID: call.CallID,
				Name:   call.Name,
			}
			outputs[i] = out

			tool, ok := a.agent.Tools.Get(call.Name)
			if !ok {
				out.IsError = true
				out.Output = fmt.Sprintf("tool %q is not available", call.Name)
				return
			}
			res, err := tool.Execute(ctx, llm.ToolInvocation{CallID: call.CallID, RawArgs: call.Args})
			if err != nil {
				out.IsError = true
				out.Output = err.Error()
				return
			}
			if ho, ok := asHandoff(res); ok {
				target, ok := ho.Agent.(*Agent)
				if !ok {
					out.IsError = true
					out.Output = "handoff target is not an agent"
					return
				}
				mu.Lock()
				if next != nil {
					mu.Unlock()
					out.IsError = true
					out.Output = "only one agent handoff is allowed per tool batch"
					return
				}
				next = target
				mu.Unlock()
				out.Output = ho.Returns
				if out.Output == "" {
					out.Output = fmt.Sprintf("transferring to %s", target.Name)
				}
				return
			}
			out.Output = stringifyToolResult(res)
		}()
	}
	wg.Wait()
	return outputs, next
}

func asHandoff(res any) (llm.AgentHandoff, bool) {
	switch v := res.(type) {
	case llm.AgentHandoff:
		return v, true
	case *llm.AgentHandoff:
		if v != nil {
			return *v, true
		}
	}
	return llm.AgentHandoff{}, false
}

func stringifyToolResult(res any) string {
	switch v := res.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
