package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/history"
	"github.com/MrWong99/cadenza/pkg/metrics"
	"github.com/MrWong99/cadenza/pkg/provider/llm"
	"github.com/MrWong99/cadenza/pkg/provider/stt"
)

// audioRecognition pumps room audio into the STT stream and folds the
// resulting speech events into user turns. One instance per session.
type audioRecognition struct {
	session *AgentSession
	stream  stt.Stream

	mu sync.Mutex
	// pending accumulates final transcripts until the turn commits.
	pending  string
	language string
	// speechEndedAt and lastFinalAt feed the end-of-utterance metrics.
	speechEndedAt time.Time
	lastFinalAt   time.Time
	commitTimer   *time.Timer
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAudioRecognition(s *AgentSession) (*audioRecognition, error) {
	st, err := s.prov.STT.Stream(s.ctx, stt.RecognizeOptions{Language: s.opts.Language})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(s.ctx)
	return &audioRecognition{
		session:  s,
		stream:   st,
		language: s.opts.Language,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (r *audioRecognition) start() {
	r.wg.Add(2)
	go r.pumpAudio()
	go r.eventLoop()
}

// pumpAudio forwards captured frames into the recognition stream.
func (r *audioRecognition) pumpAudio() {
	defer r.wg.Done()
	s := r.session
	for {
		frame, err := s.io.Input.Read(r.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && r.ctx.Err() == nil {
				slog.Warn("voice: audio input ended", "error", err)
			}
			_ = r.stream.EndInput()
			return
		}
		if s.opts.DiscardAudioIfUninterruptible {
			if cur := s.currentActivity().currentSpeech(); cur != nil && !cur.allowInterruptions {
				continue
			}
		}
		if err := r.stream.PushFrame(frame); err != nil {
			slog.Warn("voice: stt push failed", "error", err)
			return
		}
	}
}

// eventLoop turns the STT event stream into session state, interruption
// signals, and turn commits.
func (r *audioRecognition) eventLoop() {
	defer r.wg.Done()
	s := r.session
	for {
		ev, err := r.stream.Read(r.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && r.ctx.Err() == nil {
				slog.Warn("voice: stt stream ended", "error", err)
			}
			return
		}
		s.touchUserActivity()
		switch ev.Type {
		case stt.EventStartOfSpeech:
			r.stopCommitTimer()
			s.setUserState(UserStateSpeaking)
			s.currentActivity().handleInterruptSignal("")

		case stt.EventInterimTranscript:
			if len(ev.Alternatives) == 0 {
				continue
			}
			alt := ev.Alternatives[0]
			s.emit(UserInputTranscribed{Transcript: alt.Text, IsFinal: false, Language: alt.Language})
			if s.opts.PreemptiveGeneration {
				s.currentActivity().startSpeculative(r.withPending(alt.Text))
			}

		case stt.EventFinalTranscript:
			if len(ev.Alternatives) == 0 {
				continue
			}
			alt := ev.Alternatives[0]
			r.mu.Lock()
			if r.pending != "" {
				r.pending += " "
			}
			r.pending += alt.Text
			if alt.Language != "" {
				r.language = alt.Language
			}
			r.lastFinalAt = time.Now()
			text := r.pending
			r.mu.Unlock()
			s.emit(UserInputTranscribed{Transcript: alt.Text, IsFinal: true, Language: alt.Language})
			s.currentActivity().handleInterruptSignal(text)
			r.scheduleCommit()

		case stt.EventEndOfSpeech:
			s.setUserState(UserStateListening)
			r.mu.Lock()
			r.speechEndedAt = time.Now()
			r.mu.Unlock()
			r.scheduleCommit()

		case stt.EventRecognitionUsage:
			if ev.Usage != nil {
				m := metrics.NewSTTMetrics(s.prov.STT.Label(), ev.RequestID)
				m.AudioDuration = ev.Usage.AudioDuration
				m.Streamed = true
				s.recordMetric(m)
			}
		}
	}
}

// withPending returns the pending transcript extended by an interim
// hypothesis, the text a speculative generation would answer.
func (r *audioRecognition) withPending(interim string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == "" {
		return interim
	}
	if interim == "" {
		return r.pending
	}
	return r.pending + " " + interim
}

// scheduleCommit (re)arms the endpointing timer. The minimum delay applies
// unless the turn detector judges the utterance unfinished, which stretches
// the wait to the maximum delay.
func (r *audioRecognition) scheduleCommit() {
	s := r.session
	r.mu.Lock()
	if r.closed || r.pending == "" {
		r.mu.Unlock()
		return
	}
	text := r.pending
	lang := r.language
	if r.commitTimer != nil {
		r.commitTimer.Stop()
	}
	r.mu.Unlock()

	delay := s.opts.MinEndpointingDelay
	if det := s.prov.TurnDetector; det != nil && det.SupportsLanguage(lang) {
		snap := s.currentActivity().snapshotWithUser(text)
		prob := det.PredictEndOfTurn(r.ctx, snap)
		if threshold, ok := det.UnlikelyThreshold(lang); ok && prob < threshold {
			delay = s.opts.MaxEndpointingDelay
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.commitTimer = time.AfterFunc(delay, r.commit)
	r.mu.Unlock()
}

func (r *audioRecognition) stopCommitTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitTimer != nil {
		r.commitTimer.Stop()
		r.commitTimer = nil
	}
}

// commitNow commits the pending user turn immediately.
func (r *audioRecognition) commitNow() {
	r.stopCommitTimer()
	r.commit()
}

// clear discards the pending user turn without generating a reply.
func (r *audioRecognition) clear() {
	r.stopCommitTimer()
	r.mu.Lock()
	r.pending = ""
	r.mu.Unlock()
	r.session.currentActivity().cancelSpeculative()
}

// commit closes the user turn: the transcript becomes a conversation item
// and a reply speech is scheduled, reusing a matching speculative stream.
func (r *audioRecognition) commit() {
	s := r.session
	r.mu.Lock()
	text := r.pending
	r.pending = ""
	speechEndedAt := r.speechEndedAt
	lastFinalAt := r.lastFinalAt
	r.speechEndedAt = time.Time{}
	r.mu.Unlock()
	if text == "" {
		return
	}

	act := s.currentActivity()
	if act == nil {
		return
	}
	act.appendItems(llm.NewMessage(llm.RoleUser, text))
	s.appendHistory(history.Entry{Role: history.RoleUser, Text: text})

	h := newSpeechHandle(SourceGenerate, SpeechPriorityNormal, s.opts.AllowInterruptions)
	// The user message is already in the live conversation; the reply
	// generates against a snapshot that includes it.
	h.chatCtx = act.ChatContext()
	if spec := act.takeSpeculative(text); spec != nil {
		h.chatCtx = spec.chatCtx
		h.speculative = spec.stream
	}
	if err := act.schedule(h, false); err != nil {
		slog.Warn("voice: scheduling reply failed", "error", err)
		return
	}

	if !speechEndedAt.IsZero() {
		m := metrics.NewEOUMetrics(s.prov.STT.Label(), h.id)
		m.EndOfUtteranceDelay = time.Since(speechEndedAt)
		if lastFinalAt.After(speechEndedAt) {
			m.TranscriptionDelay = lastFinalAt.Sub(speechEndedAt)
		}
		s.recordMetric(m)
	}
}

// close tears the recognition pipeline down. Idempotent.
func (r *audioRecognition) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.commitTimer != nil {
		r.commitTimer.Stop()
		r.commitTimer = nil
	}
	r.mu.Unlock()
	r.cancel()
	_ = r.stream.Close()
	r.wg.Wait()
}
