package stt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/audio"
	"github.com/MrWong99/cadenza/pkg/provider/vad"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// StreamAdapter lifts a non-streaming [STT] into the [Stream] interface by
// using a VAD to find utterance boundaries: frames are pushed into a
// detection stream, and each finished speech segment is transcribed with one
// Recognize call.
type StreamAdapter struct {
	stt    STT
	vad    vad.VAD
	vadCfg vad.Config
}

var _ STT = (*StreamAdapter)(nil)

// NewStreamAdapter wraps recognizer with detector. vadCfg configures every
// detection stream the adapter opens.
func NewStreamAdapter(recognizer STT, detector vad.VAD, vadCfg vad.Config) *StreamAdapter {
	return &StreamAdapter{stt: recognizer, vad: detector, vadCfg: vadCfg}
}

// Label implements [STT].
func (a *StreamAdapter) Label() string {
	return fmt.Sprintf("stt.adapter(%s)", a.stt.Label())
}

// Capabilities implements [STT]. The adapter streams but cannot produce
// interim results; transcripts arrive once per VAD segment.
func (a *StreamAdapter) Capabilities() Capabilities {
	return Capabilities{Streaming: true, InterimResults: false}
}

// Recognize implements [STT] by delegating to the wrapped recognizer.
func (a *StreamAdapter) Recognize(ctx context.Context, buffer []audio.AudioFrame, opts RecognizeOptions) (SpeechEvent, error) {
	return a.stt.Recognize(ctx, buffer, opts)
}

// Stream implements [STT].
func (a *StreamAdapter) Stream(ctx context.Context, opts RecognizeOptions) (Stream, error) {
	vs, err := a.vad.Stream(a.vadCfg)
	if err != nil {
		return nil, fmt.Errorf("open vad stream: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &adapterStream{
		stt:    a.stt,
		vs:     vs,
		opts:   opts,
		out:    stream.NewPipe[SpeechEvent](16),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.loop(loopCtx)
	return s, nil
}

type adapterStream struct {
	stt  STT
	vs   vad.Stream
	opts RecognizeOptions
	out  *stream.Pipe[SpeechEvent]

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// PushFrame implements [Stream].
func (s *adapterStream) PushFrame(frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrClosed
	}
	return s.vs.PushFrame(frame)
}

// Flush implements [Stream]. Segment boundaries come from the detector, so
// there is nothing to finalize early.
func (s *adapterStream) Flush() error { return nil }

// EndInput implements [Stream]. A speech segment still open at this point is
// discarded with the detection stream.
func (s *adapterStream) EndInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.vs.Close()
}

// Read implements [Stream].
func (s *adapterStream) Read(ctx context.Context) (SpeechEvent, error) {
	return s.out.Read(ctx)
}

// Close implements [Stream].
func (s *adapterStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.vs.Close()
	s.cancel()
	s.wg.Wait()
	s.out.CloseWrite()
	return err
}

// loop turns detection events into speech events, transcribing each finished
// segment with one Recognize call.
func (s *adapterStream) loop(ctx context.Context) {
	defer s.wg.Done()

	var reqID string
	for {
		ev, err := s.vs.Read(ctx)
		if err == io.EOF {
			s.out.CloseWrite()
			return
		}
		if err != nil {
			s.out.Abort(err)
			return
		}

		switch ev.Type {
		case vad.EventStartOfSpeech:
			reqID = async.ShortID()
			s.emit(ctx, SpeechEvent{Type: EventStartOfSpeech, RequestID: reqID})

		case vad.EventEndOfSpeech:
			s.transcribe(ctx, reqID, ev.Frames)
			s.emit(ctx, SpeechEvent{Type: EventEndOfSpeech, RequestID: reqID})
		}
	}
}

func (s *adapterStream) transcribe(ctx context.Context, reqID string, frames []audio.AudioFrame) {
	if len(frames) == 0 {
		return
	}
	res, err := s.stt.Recognize(ctx, frames, s.opts)
	if err != nil {
		// One bad segment must not kill the stream; log and move on.
		slog.Warn("stt adapter: segment recognition failed",
			"stt", s.stt.Label(), "err", err)
		return
	}
	res.Type = EventFinalTranscript
	res.RequestID = reqID
	s.emit(ctx, res)

	if res.Usage == nil {
		var total time.Duration
		for _, f := range frames {
			total += f.Duration()
		}
		s.emit(ctx, SpeechEvent{
			Type:      EventRecognitionUsage,
			RequestID: reqID,
			Usage:     &RecognitionUsage{AudioDuration: total},
		})
	}
}

func (s *adapterStream) emit(ctx context.Context, ev SpeechEvent) {
	_ = s.out.Write(ctx, ev)
}
