package audio

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultFrameDuration is the frame size produced by [ByteStream] when none
// is configured.
const DefaultFrameDuration = 20 * time.Millisecond

// ByteStream frames an incoming byte sequence of little-endian int16 PCM into
// fixed-size [AudioFrame]s. TTS providers emit arbitrarily sized byte chunks;
// the output pipeline wants uniform frames, 20 ms by default.
//
// Not safe for concurrent use; create one per synthesis stream.
type ByteStream struct {
	sampleRate int
	channels   int
	frameBytes int

	buf      []byte
	consumed time.Duration

	warnOnce sync.Once
}

// NewByteStream returns a framer for the given format. frameDuration ≤ 0
// selects [DefaultFrameDuration].
func NewByteStream(sampleRate, channels int, frameDuration time.Duration) *ByteStream {
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	samples := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	return &ByteStream{
		sampleRate: sampleRate,
		channels:   channels,
		frameBytes: samples * channels * 2,
	}
}

// Write appends data to the internal buffer and returns every complete frame
// that can be cut from it. The returned frames carry monotonically increasing
// timestamps.
func (b *ByteStream) Write(data []byte) []AudioFrame {
	b.buf = append(b.buf, data...)

	var frames []AudioFrame
	for len(b.buf) >= b.frameBytes {
		frames = append(frames, b.cutFrame(b.frameBytes))
	}
	return frames
}

// Flush returns the buffered remainder as final frames. Only whole-frame
// multiples are emitted; a partial trailing frame of samples is dropped with
// a warning since it cannot be played at the configured frame size.
func (b *ByteStream) Flush() []AudioFrame {
	var frames []AudioFrame
	for len(b.buf) >= b.frameBytes {
		frames = append(frames, b.cutFrame(b.frameBytes))
	}
	if len(b.buf) > 0 {
		b.warnOnce.Do(func() {
			slog.Warn("audio byte stream: dropping partial trailing frame",
				"bytes", len(b.buf),
				"frame_bytes", b.frameBytes,
			)
		})
		b.buf = nil
	}
	return frames
}

func (b *ByteStream) cutFrame(n int) AudioFrame {
	data := make([]byte, n)
	copy(data, b.buf[:n])
	b.buf = b.buf[n:]

	f := AudioFrame{
		Data:       data,
		SampleRate: b.sampleRate,
		Channels:   b.channels,
		Timestamp:  b.consumed,
	}
	b.consumed += f.Duration()
	return f
}
