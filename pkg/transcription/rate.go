// Package transcription keeps displayed transcripts in lockstep with audio
// playback. SpeakingRateData models how many characters have been spoken by
// a given playback time; Synchronizer uses it to emit transcript text
// exactly as fast as the TTS audio plays it; the transforms pipeline
// rewrites TTS-bound text (markdown stripping, verbalization) without ever
// splitting mid-token.
package transcription

import (
	"sync"
	"time"
)

// sample is a known point on the cumulative characters-over-time curve.
type sample struct {
	at    time.Duration
	chars float64
}

// SpeakingRateData tracks cumulative characters spoken against playback
// time. It is fed in one of two modes, which may be mixed:
//
//   - Rate-based: AddByRate pushes a piecewise-constant speaking rate from a
//     point in time onward.
//   - Annotation-based: AddByAnnotation buffers characters of unknown timing
//     until a timestamped annotation arrives, then commits them as one
//     segment ending at the annotation's end time.
//
// Safe for concurrent use.
type SpeakingRateData struct {
	mu      sync.Mutex
	samples []sample
	rate    float64 // characters per second after the last sample
	pending float64 // annotation mode: characters awaiting a timestamp
}

// NewSpeakingRateData returns an empty curve starting at zero characters.
func NewSpeakingRateData() *SpeakingRateData {
	return &SpeakingRateData{samples: []sample{{}}}
}

// AddByRate sets the speaking rate (characters per second) from time t
// onward. Characters accumulated under the previous rate up to t are
// committed first. Out-of-order times are clamped forward.
func (d *SpeakingRateData) AddByRate(t time.Duration, rate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	last := d.samples[len(d.samples)-1]
	if t < last.at {
		t = last.at
	}
	d.samples = append(d.samples, sample{at: t, chars: d.valueAt(t)})
	d.rate = rate
}

// AddText buffers characters with unknown timing. They are committed by the
// next AddByAnnotation call that carries an end time.
func (d *SpeakingRateData) AddText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending += float64(len([]rune(text)))
}

// AddByAnnotation commits text, plus any buffered characters, as a segment
// ending at end. The segment starts where the curve currently ends, so its
// rate is derived rather than assumed.
func (d *SpeakingRateData) AddByAnnotation(text string, end time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	last := d.samples[len(d.samples)-1]
	if end < last.at {
		end = last.at
	}
	chars := d.pending + float64(len([]rune(text)))
	d.pending = 0
	d.rate = 0
	d.samples = append(d.samples, sample{at: end, chars: last.chars + chars})
}

// AccumulateTo returns how many characters should have been emitted by
// playback time t, interpolating linearly inside segments. Beyond the last
// sample the current rate extrapolates; annotation-committed curves hold
// flat.
func (d *SpeakingRateData) AccumulateTo(t time.Duration) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valueAt(t)
}

func (d *SpeakingRateData) valueAt(t time.Duration) float64 {
	n := len(d.samples)
	last := d.samples[n-1]
	if t >= last.at {
		return last.chars + d.rate*(t-last.at).Seconds()
	}
	// Find the segment containing t and interpolate.
	for i := n - 1; i > 0; i-- {
		lo, hi := d.samples[i-1], d.samples[i]
		if t < lo.at {
			continue
		}
		span := (hi.at - lo.at).Seconds()
		if span <= 0 {
			return hi.chars
		}
		frac := (t - lo.at).Seconds() / span
		return lo.chars + frac*(hi.chars-lo.chars)
	}
	return 0
}

// Total returns the characters committed to the curve so far, excluding
// buffered pending text.
func (d *SpeakingRateData) Total() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samples[len(d.samples)-1].chars
}
