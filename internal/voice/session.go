package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/internal/observe"
	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/history"
	"github.com/MrWong99/cadenza/pkg/metrics"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
	"github.com/MrWong99/cadenza/pkg/provider/stt"
	"github.com/MrWong99/cadenza/pkg/provider/tts"
	"github.com/MrWong99/cadenza/pkg/provider/vad"
	"github.com/MrWong99/cadenza/pkg/stream"
	"github.com/MrWong99/cadenza/pkg/transcription"
	"github.com/MrWong99/cadenza/pkg/turn"
)

// ErrSessionClosed is returned by session verbs after Close.
var ErrSessionClosed = errors.New("voice: session is closed")

// ErrSessionNotStarted is returned by verbs before Start.
var ErrSessionNotStarted = errors.New("voice: session not started")

// AudioOutput is where synthesized frames go, typically a room track writer.
type AudioOutput interface {
	// Write plays one frame, blocking while the playout buffer is full.
	Write(ctx context.Context, frame audio.AudioFrame) error

	// ClearBuffer drops queued but unplayed audio, for interruptions.
	ClearBuffer()
}

// IO binds the session to its room: captured user audio in, synthesized
// agent audio out. Either side may be nil for text-only operation.
type IO struct {
	Input  stream.Reader[audio.AudioFrame]
	Output AudioOutput
}

// Providers are the model backends a session orchestrates. LLM is required;
// the rest degrade gracefully when nil.
type Providers struct {
	LLM llm.LLM
	STT stt.STT
	TTS tts.TTS
	VAD vad.VAD

	// TurnDetector gates end-of-utterance commits; nil commits on the
	// minimum endpointing delay alone.
	TurnDetector *turn.Detector
}

// Options tunes session behavior. Build from [DefaultOptions] and override.
type Options struct {
	// AllowInterruptions is the master switch for the interruption policy.
	AllowInterruptions bool

	// DiscardAudioIfUninterruptible drops input audio while an
	// uninterruptible speech is playing.
	DiscardAudioIfUninterruptible bool

	// MinInterruptionDuration is the minimum playout before an interrupt
	// signal counts.
	MinInterruptionDuration time.Duration

	// MinInterruptionWords is the transcript word-count threshold for an
	// interruption; 0 disables the word gate.
	MinInterruptionWords int

	// Classifier, when set, vets overlapping speech that passed the word
	// and duration gates. Nil behaves like [AlwaysInterrupt].
	Classifier OverlapClassifier

	// MinEndpointingDelay is the pause after a final transcript before the
	// user turn commits; MaxEndpointingDelay the cap applied when the turn
	// detector judges the utterance unfinished.
	MinEndpointingDelay time.Duration
	MaxEndpointingDelay time.Duration

	// MaxToolSteps bounds LLM→tool→LLM chains per user turn; 0 suppresses
	// post-tool replies entirely.
	MaxToolSteps int

	// PreemptiveGeneration starts the LLM speculatively on interim
	// transcripts.
	PreemptiveGeneration bool

	// UserAwayTimeout of STT inactivity flips the user state to away;
	// 0 disables.
	UserAwayTimeout time.Duration

	// UseTTSAlignedTranscript prefers word timings from the synthesizer for
	// transcript sync when the provider reports them.
	UseTTSAlignedTranscript bool

	// SpeakingRate is the fallback transcript pace in characters per
	// second; 0 selects the transcription package default.
	SpeakingRate float64

	// TTSTransforms rewrite TTS-bound text (verbalization, markdown
	// stripping). Applied in order.
	TTSTransforms []transcription.Transform

	// Voice is the synthesizer voice id; Language the recognition language.
	Voice    string
	Language string

	// VADConfig parameterizes detection when STT needs the VAD adapter.
	VADConfig vad.Config

	// Collector, when set, folds usage out of emitted metric records.
	Collector *metrics.UsageCollector

	// Observer receives every emitted metric record on OTel instruments;
	// nil selects the process-wide instruments.
	Observer *observe.Metrics

	// History, when set, persists committed transcript entries.
	History history.Store

	// SessionID keys history entries; defaults to a generated id.
	SessionID string
}

// DefaultOptions returns the option set a typical voice session wants.
func DefaultOptions() Options {
	return Options{
		AllowInterruptions:      true,
		MinInterruptionDuration: 500 * time.Millisecond,
		MinInterruptionWords:    0,
		MinEndpointingDelay:     500 * time.Millisecond,
		MaxEndpointingDelay:     6 * time.Second,
		MaxToolSteps:            3,
		UserAwayTimeout:         15 * time.Second,
	}
}

type sessionState string

const (
	stateIdle    sessionState = "idle"
	stateStarted sessionState = "started"
	stateClosing sessionState = "closing"
	stateClosed  sessionState = "closed"
)

// AgentSession orchestrates one conversation: audio recognition, turn
// commits, the agent's speech pipeline, and handoffs between agents.
type AgentSession struct {
	opts     Options
	prov     Providers
	io       IO
	observer *observe.Metrics

	events chan Event

	mu           sync.Mutex
	state        sessionState
	activity     *AgentActivity
	nextActivity *AgentActivity
	userState    UserState
	agentState   AgentState
	awayTimer    *time.Timer

	// handoffMu serializes agent swaps.
	handoffMu sync.Mutex

	recog *audioRecognition

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewAgentSession builds an idle session. Call Start to begin serving.
func NewAgentSession(prov Providers, io IO, opts Options) (*AgentSession, error) {
	if prov.LLM == nil {
		return nil, errors.New("voice: an LLM provider is required")
	}
	if opts.SessionID == "" {
		opts.SessionID = async.ShortIDWith("session")
	}
	if opts.MaxEndpointingDelay < opts.MinEndpointingDelay {
		opts.MaxEndpointingDelay = opts.MinEndpointingDelay
	}
	// Non-streaming providers are lifted to their streaming shape once,
	// here, so the pipeline code has a single path.
	if prov.STT != nil && !prov.STT.Capabilities().Streaming {
		if prov.VAD == nil {
			return nil, errors.New("voice: non-streaming STT requires a VAD")
		}
		prov.STT = stt.NewStreamAdapter(prov.STT, prov.VAD, opts.VADConfig)
	}
	if prov.TTS != nil && !prov.TTS.Capabilities().Streaming {
		prov.TTS = tts.NewStreamAdapter(prov.TTS)
	}
	observer := opts.Observer
	if observer == nil {
		observer = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AgentSession{
		opts:       opts,
		prov:       prov,
		io:         io,
		observer:   observer,
		events:     make(chan Event, 64),
		state:      stateIdle,
		userState:  UserStateListening,
		agentState: AgentStateInitializing,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Events returns the session notification channel. It is closed after the
// Close event.
func (s *AgentSession) Events() <-chan Event { return s.events }

// Options returns the session options.
func (s *AgentSession) Options() Options { return s.opts }

// Start activates agent and begins consuming input audio. Only one session
// start is permitted.
func (s *AgentSession) Start(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return fmt.Errorf("voice: session already %s", s.state)
	}
	s.state = stateStarted
	act := newAgentActivity(s, agent)
	s.activity = act
	s.mu.Unlock()

	act.start()
	if s.io.Input != nil && s.prov.STT != nil {
		recog, err := newAudioRecognition(s)
		if err != nil {
			return fmt.Errorf("voice: start recognition: %w", err)
		}
		s.recog = recog
		recog.start()
	}
	s.observer.ActiveSessions.Add(s.ctx, 1)
	s.resetAwayTimer()
	s.setAgentState(AgentStateListening)
	if agent.OnEnter != nil {
		agent.OnEnter(ctx, s)
	}
	slog.Info("voice session started", "session_id", s.opts.SessionID, "agent", agent.Name)
	return nil
}

// currentActivity returns where new speech should go: the successor during
// a handoff, the active activity otherwise.
func (s *AgentSession) currentActivity() *AgentActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextActivity != nil {
		return s.nextActivity
	}
	return s.activity
}

// Say schedules pre-written text as agent speech.
func (s *AgentSession) Say(text string) (*SpeechHandle, error) {
	act := s.currentActivity()
	if act == nil {
		return nil, ErrSessionNotStarted
	}
	h := newSpeechHandle(SourceSay, SpeechPriorityNormal, s.opts.AllowInterruptions)
	h.text = text
	if err := act.schedule(h, false); err != nil {
		return nil, err
	}
	return h, nil
}

// GenerateReplyOptions tunes one GenerateReply call.
type GenerateReplyOptions struct {
	// UserInput, when set, is appended as a synthetic user turn.
	UserInput string

	// Instructions are extra system guidance for this reply only.
	Instructions string

	ToolChoice llm.ToolChoice
}

// GenerateReply schedules an LLM-generated agent speech.
func (s *AgentSession) GenerateReply(opts GenerateReplyOptions) (*SpeechHandle, error) {
	act := s.currentActivity()
	if act == nil {
		return nil, ErrSessionNotStarted
	}
	h := newSpeechHandle(SourceGenerate, SpeechPriorityNormal, s.opts.AllowInterruptions)
	h.userInput = opts.UserInput
	h.instructions = opts.Instructions
	h.toolChoice = opts.ToolChoice
	if err := act.schedule(h, false); err != nil {
		return nil, err
	}
	return h, nil
}

// Interrupt cancels the current speech and clears the queue. The returned
// future resolves when playout has stopped.
func (s *AgentSession) Interrupt(force bool) *async.Future[struct{}] {
	act := s.currentActivity()
	if act == nil {
		fut := async.NewFuture[struct{}]()
		fut.Resolve(struct{}{})
		return fut
	}
	return act.interrupt(force)
}

// CommitUserTurn commits the pending user transcript immediately, for
// push-to-talk style turn handling.
func (s *AgentSession) CommitUserTurn() {
	if s.recog != nil {
		s.recog.commitNow()
	}
}

// ClearUserTurn discards the pending user transcript.
func (s *AgentSession) ClearUserTurn() {
	if s.recog != nil {
		s.recog.clear()
	}
}

// UpdateAgent swaps to next: the in-flight speech finishes, queued speeches
// are forwarded, OnExit and OnEnter hooks run, and new speech routes to the
// successor immediately. Swaps are serialized.
func (s *AgentSession) UpdateAgent(next *Agent) error {
	s.handoffMu.Lock()
	defer s.handoffMu.Unlock()

	s.mu.Lock()
	if s.state != stateStarted {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prev := s.activity
	nextAct := newAgentActivity(s, next)
	s.nextActivity = nextAct
	s.mu.Unlock()

	prev.pauseScheduling()
	// Pending speeches move to the successor; the in-flight speech and any
	// forced tool-chain replies it spawns finish on the old agent first.
	forwarded := prev.takeQueued()
	if cur := prev.currentSpeech(); cur != nil {
		<-cur.Done()
	}
	if err := prev.drain(s.ctx); err != nil {
		slog.Warn("voice: handoff drain", "error", err)
	}
	if prev.agent.OnExit != nil {
		prev.agent.OnExit(s.ctx, s)
	}
	// Conversation continuity: the successor inherits the full history,
	// taken after the drain so it includes what the old agent said while
	// finishing its turn.
	nextAct.mu.Lock()
	nextAct.chatCtx = prev.ChatContext()
	nextAct.mu.Unlock()
	prev.close()

	nextAct.start()
	s.mu.Lock()
	s.activity = nextAct
	s.nextActivity = nil
	s.mu.Unlock()
	for _, h := range forwarded {
		if err := nextAct.schedule(h, false); err != nil {
			slog.Warn("voice: forwarding queued speech failed", "speech_id", h.id, "error", err)
		}
	}
	if next.OnEnter != nil {
		next.OnEnter(s.ctx, s)
	}
	slog.Info("agent handoff", "session_id", s.opts.SessionID, "from", prev.agent.Name, "to", next.Name)
	return nil
}

// Close shuts the session down: force-interrupt, commit the user turn
// (unless closing on error), drain, close the activity, detach audio, and
// emit a single Close event. Idempotent.
func (s *AgentSession) Close(ctx context.Context, reason CloseReason, cause error) error {
	s.closeOnce.Do(func() {
		// An in-flight handoff finishes (or fails its state check) before
		// teardown; without this a swap could emit on the closed channel.
		s.handoffMu.Lock()
		defer s.handoffMu.Unlock()

		s.mu.Lock()
		started := s.state != stateIdle
		s.state = stateClosing
		act := s.activity
		timer := s.awayTimer
		s.awayTimer = nil
		s.mu.Unlock()
		if started {
			s.observer.ActiveSessions.Add(context.Background(), -1)
		}
		if timer != nil {
			timer.Stop()
		}

		if act != nil {
			fut := act.interrupt(true)
			if _, err := fut.Wait(ctx); err != nil {
				slog.Warn("voice: close interrupt", "error", err)
			}
			if reason != CloseReasonError {
				s.CommitUserTurn()
			}
			if err := act.drain(ctx); err != nil {
				slog.Warn("voice: close drain", "error", err)
			}
			act.close()
		}
		if s.recog != nil {
			s.recog.close()
		}
		s.cancel()

		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()
		s.emit(Close{Reason: reason, Err: cause})
		close(s.events)
		slog.Info("voice session closed", "session_id", s.opts.SessionID, "reason", reason)
	})
	return nil
}

// ─── state and event plumbing ───

// emit delivers ev without blocking; a slow subscriber drops the oldest
// events first.
func (s *AgentSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *AgentSession) setUserState(next UserState) {
	s.mu.Lock()
	old := s.userState
	s.userState = next
	s.mu.Unlock()
	if old != next {
		s.emit(UserStateChanged{Old: old, New: next})
	}
}

func (s *AgentSession) setAgentState(next AgentState) {
	s.mu.Lock()
	old := s.agentState
	s.agentState = next
	s.mu.Unlock()
	if old != next {
		s.emit(AgentStateChanged{Old: old, New: next})
	}
}

// UserState returns the current user state.
func (s *AgentSession) UserState() UserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userState
}

// AgentState returns the current agent state.
func (s *AgentSession) AgentState() AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentState
}

// touchUserActivity refreshes the away timer and restores an away user to
// listening. Called on every STT signal.
func (s *AgentSession) touchUserActivity() {
	s.mu.Lock()
	away := s.userState == UserStateAway
	s.mu.Unlock()
	if away {
		s.setUserState(UserStateListening)
	}
	s.resetAwayTimer()
}

func (s *AgentSession) resetAwayTimer() {
	if s.opts.UserAwayTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosing || s.state == stateClosed {
		return
	}
	if s.awayTimer != nil {
		s.awayTimer.Stop()
	}
	s.awayTimer = time.AfterFunc(s.opts.UserAwayTimeout, func() {
		s.setUserState(UserStateAway)
	})
}

// recordMetric folds rec into the collector and the OTel instruments, then
// republishes it as an event.
func (s *AgentSession) recordMetric(rec metrics.Record) {
	if s.opts.Collector != nil {
		s.opts.Collector.Collect(rec)
	}
	s.observer.RecordMetric(s.ctx, rec)
	s.emit(MetricsCollected{Record: rec})
}

// appendHistory persists one transcript entry when a store is configured.
func (s *AgentSession) appendHistory(e history.Entry) {
	if s.opts.History == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		if err := s.opts.History.Append(hctx, s.opts.SessionID, e); err != nil {
			slog.Warn("voice: history append failed", "error", err)
		}
	}()
}

func (s *AgentSession) synthesizeOptions() tts.SynthesizeOptions {
	return tts.SynthesizeOptions{Voice: s.opts.Voice}
}
