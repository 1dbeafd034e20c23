// Package audio holds the audio data model shared across the Cadenza
// pipeline: PCM frames, fixed-size frame framing, format conversion, and
// small channel helpers.
//
// All PCM in this package is little-endian signed 16-bit, interleaved when
// multi-channel.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport: received from the
// room, processed by VAD, pushed into STT, and played through the output
// sink.
type AudioFrame struct {
	// Data is little-endian int16 PCM. Sample rate and channel count are
	// carried alongside rather than assumed from context.
	Data []byte

	// SampleRate in Hz (e.g. 48000 for room audio, 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SamplesPerChannel returns the number of samples per channel in the frame.
func (f AudioFrame) SamplesPerChannel() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel()) * time.Second / time.Duration(f.SampleRate)
}
