package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/cadenza/pkg/async"
	"github.com/MrWong99/cadenza/pkg/stream"
)

// minSentenceLen keeps the adapter from synthesizing fragments so short that
// prosody suffers; shorter sentences are held until more text arrives.
const minSentenceLen = 12

// StreamAdapter lifts a non-streaming [TTS] into the [Stream] interface by
// sentence chunking: pushed text is buffered until a sentence boundary, and
// each complete sentence is rendered with one Synthesize call. The adapter
// treats every extracted sentence as its own segment.
type StreamAdapter struct {
	tts TTS
}

var _ TTS = (*StreamAdapter)(nil)

// NewStreamAdapter wraps synth.
func NewStreamAdapter(synth TTS) *StreamAdapter {
	return &StreamAdapter{tts: synth}
}

// Label implements [TTS].
func (a *StreamAdapter) Label() string {
	return fmt.Sprintf("tts.adapter(%s)", a.tts.Label())
}

// Capabilities implements [TTS].
func (a *StreamAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming:         true,
		AlignedTranscript: a.tts.Capabilities().AlignedTranscript,
	}
}

// Synthesize implements [TTS] by delegating to the wrapped synthesizer.
func (a *StreamAdapter) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*AudioStream, error) {
	return a.tts.Synthesize(ctx, text, opts)
}

// Stream implements [TTS].
func (a *StreamAdapter) Stream(ctx context.Context, opts SynthesizeOptions) (Stream, error) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &adapterStream{
		tts:      a.tts,
		opts:     opts,
		reqID:    async.ShortID(),
		segments: async.NewQueue[string](),
		out:      stream.NewPipe[SynthesizedAudio](16),
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.loop(loopCtx)
	return s, nil
}

type adapterStream struct {
	tts      TTS
	opts     SynthesizeOptions
	reqID    string
	segments *async.Queue[string]
	out      *stream.Pipe[SynthesizedAudio]

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	buf    strings.Builder
	closed bool
}

// PushText implements [Stream]. Complete sentences are handed to synthesis
// immediately; the incomplete tail stays buffered.
func (s *adapterStream) PushText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrClosed
	}
	s.buf.WriteString(text)
	for {
		sentence, rest, ok := splitSentence(s.buf.String())
		if !ok {
			return nil
		}
		s.buf.Reset()
		s.buf.WriteString(rest)
		if err := s.segments.Put(sentence); err != nil {
			return err
		}
	}
}

// Flush implements [Stream], forcing the buffered tail into synthesis.
func (s *adapterStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *adapterStream) flushLocked() error {
	if s.closed {
		return stream.ErrClosed
	}
	tail := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if tail == "" {
		return nil
	}
	return s.segments.Put(tail)
}

// EndInput implements [Stream].
func (s *adapterStream) EndInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.segments.Close()
	return err
}

// Read implements [Stream].
func (s *adapterStream) Read(ctx context.Context) (SynthesizedAudio, error) {
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

	s.segments.Close()
	s.cancel()
	s.wg.Wait()
	s.out.CloseWrite()
	return nil
}

// loop renders queued sentences in order, one Synthesize call per sentence.
func (s *adapterStream) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		sentence, err := s.segments.Get(ctx)
		if errors.Is(err, async.ErrQueueClosed) {
			s.out.CloseWrite()
			return
		}
		if err != nil {
			s.out.Abort(err)
			return
		}
		if err := s.renderSegment(ctx, sentence); err != nil {
			s.out.Abort(err)
			return
		}
	}
}

func (s *adapterStream) renderSegment(ctx context.Context, sentence string) error {
	segID := async.ShortID()
	as, err := s.tts.Synthesize(ctx, sentence, s.opts)
	if err != nil {
		return err
	}

	// One chunk of lookahead so the last chunk can carry Final.
	var pending *SynthesizedAudio
	first := true
	for {
		chunk, err := as.Read(ctx)
		if err == io.EOF {
			if pending != nil {
				pending.Final = true
				return s.out.Write(ctx, *pending)
			}
			return nil
		}
		if err != nil {
			return err
		}
		chunk.RequestID = s.reqID
		chunk.SegmentID = segID
		if first {
			chunk.DeltaText = sentence
			first = false
		}
		if pending != nil {
			if werr := s.out.Write(ctx, *pending); werr != nil {
				return werr
			}
		}
		pending = &chunk
	}
}

// splitSentence extracts the first complete sentence from text. A sentence is
// complete once a terminator is followed by whitespace and the sentence meets
// the minimum length.
func splitSentence(text string) (sentence, rest string, ok bool) {
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		end := i + len(string(r))
		if end < len(text) {
			next, _ := firstRune(text[end:])
			if r != '\n' && !unicode.IsSpace(next) {
				continue // abbreviation or number, keep scanning
			}
		}
		candidate := strings.TrimSpace(text[:end])
		if len(candidate) < minSentenceLen {
			continue
		}
		return candidate, strings.TrimLeft(text[end:], " \t\n"), true
	}
	return "", "", false
}

func firstRune(s string) (rune, int) {
	for _, r := range s {
		return r, len(string(r))
	}
	return 0, 0
}
