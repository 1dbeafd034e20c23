package audio_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrWong99/cadenza/pkg/audio"
)

// pcm returns n bytes of deterministic fake PCM data.
func pcm(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestByteStream_FramesAreFixedSize(t *testing.T) {
	t.Parallel()

	// 16 kHz mono, 20 ms frames → 320 samples → 640 bytes per frame.
	bs := audio.NewByteStream(16000, 1, 0)
	frames := bs.Write(pcm(640*3 + 100))

	if len(frames) != 3 {
		t.Fatalf("frames: want 3, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f.Data) != 640 {
			t.Errorf("frame %d size: want 640, got %d", i, len(f.Data))
		}
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("frame %d format: got %dHz/%dch", i, f.SampleRate, f.Channels)
		}
		if want := time.Duration(i) * 20 * time.Millisecond; f.Timestamp != want {
			t.Errorf("frame %d timestamp: want %v, got %v", i, want, f.Timestamp)
		}
	}
}

func TestByteStream_RoundTripModuloPartialFrame(t *testing.T) {
	t.Parallel()

	bs := audio.NewByteStream(16000, 1, 20*time.Millisecond)
	input := pcm(640*4 + 638) // 4 whole frames, one almost-complete remainder

	var out []byte
	for _, chunk := range [][]byte{input[:1000], input[1000:2500], input[2500:]} {
		for _, f := range bs.Write(chunk) {
			out = append(out, f.Data...)
		}
	}
	for _, f := range bs.Flush() {
		out = append(out, f.Data...)
	}

	aligned := len(input) / 640 * 640
	if !bytes.Equal(out, input[:aligned]) {
		t.Errorf("round trip: output differs from frame-aligned input (got %d bytes, want %d)", len(out), aligned)
	}
}

func TestByteStream_FlushDropsPartialTrailingSamples(t *testing.T) {
	t.Parallel()

	bs := audio.NewByteStream(48000, 2, 10*time.Millisecond) // 480*2*2 = 1920 bytes/frame
	if got := bs.Write(pcm(1920 + 4)); len(got) != 1 {
		t.Fatalf("Write: want 1 frame, got %d", len(got))
	}
	if got := bs.Flush(); len(got) != 0 {
		t.Errorf("Flush: want 0 frames for partial remainder, got %d", len(got))
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := audio.AudioFrame{Data: pcm(640), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration: want 20ms, got %v", got)
	}
	if got := f.SamplesPerChannel(); got != 320 {
		t.Errorf("SamplesPerChannel: want 320, got %d", got)
	}
}
