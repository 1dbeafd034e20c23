package tts_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/pkg/provider/tts"
	ttsmock "github.com/MrWong99/cadenza/pkg/provider/tts/mock"
)

// collectSegments drains s until io.EOF or the context deadline, grouping
// chunks by segment id in arrival order.
func collectSegments(t *testing.T, s tts.Stream) [][]tts.SynthesizedAudio {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var segments [][]tts.SynthesizedAudio
	for {
		chunk, err := s.Read(ctx)
		if errors.Is(err, io.EOF) {
			return segments
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		n := len(segments)
		if n == 0 || segments[n-1][0].SegmentID != chunk.SegmentID {
			segments = append(segments, nil)
			n++
		}
		segments[n-1] = append(segments[n-1], chunk)
	}
}

func TestStreamAdapter_SynthesizesPerSentence(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.TTS{Name: "piper"}
	a := tts.NewStreamAdapter(synth)

	s, err := a.Stream(context.Background(), tts.SynthesizeOptions{Voice: "alloy"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close()

	// Fragments arrive mid-word, the way an LLM streams tokens.
	for _, frag := range []string{"The quick brown fox", " jumps over the lazy dog. And then", " it ran away"} {
		if err := s.PushText(frag); err != nil {
			t.Fatalf("PushText: %v", err)
		}
	}
	if err := s.EndInput(); err != nil {
		t.Fatalf("EndInput: %v", err)
	}

	segments := collectSegments(t, s)
	if len(segments) != 2 {
		t.Fatalf("segments: want 2, got %d", len(segments))
	}

	texts := synth.SynthesizedTexts()
	if texts[0] != "The quick brown fox jumps over the lazy dog." {
		t.Errorf("first sentence: got %q", texts[0])
	}
	if texts[1] != "And then it ran away" {
		t.Errorf("flushed tail: got %q", texts[1])
	}

	for i, seg := range segments {
		last := seg[len(seg)-1]
		if !last.Final {
			t.Errorf("segment %d: last chunk not marked final", i)
		}
		if seg[0].DeltaText != texts[i] {
			t.Errorf("segment %d: delta text %q, want %q", i, seg[0].DeltaText, texts[i])
		}
		if seg[0].RequestID == "" {
			t.Errorf("segment %d: missing request id", i)
		}
	}
	if segments[0][0].RequestID != segments[1][0].RequestID {
		t.Error("request id changed between segments of one stream")
	}
}

func TestStreamAdapter_FlushForcesShortTail(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.TTS{}
	a := tts.NewStreamAdapter(synth)

	s, err := a.Stream(context.Background(), tts.SynthesizeOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close()

	// Too short for the sentence splitter; only Flush releases it.
	if err := s.PushText("Okay."); err != nil {
		t.Fatalf("PushText: %v", err)
	}
	if n := synth.SynthesizeCallCount(); n != 0 {
		t.Fatalf("Synthesize before flush: want 0 calls, got %d", n)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.EndInput(); err != nil {
		t.Fatalf("EndInput: %v", err)
	}

	if got := collectSegments(t, s); len(got) != 1 {
		t.Fatalf("segments: want 1, got %d", len(got))
	}
	if texts := synth.SynthesizedTexts(); texts[0] != "Okay." {
		t.Errorf("flushed text: got %q", texts[0])
	}
}

func TestStreamAdapter_CloseWithoutInput(t *testing.T) {
	t.Parallel()

	a := tts.NewStreamAdapter(&ttsmock.TTS{})
	s, err := a.Stream(context.Background(), tts.SynthesizeOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
