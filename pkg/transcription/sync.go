package transcription

import (
	"math"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/provider/tts"
)

// DefaultSpeakingRate is the characters-per-second estimate used when the
// synthesizer provides no word timings. Matches typical conversational TTS.
const DefaultSpeakingRate = 15.0

// SynchronizerOptions tunes a Synchronizer.
type SynchronizerOptions struct {
	// SpeakingRate is the fallback rate for unaligned text.
	// Default [DefaultSpeakingRate].
	SpeakingRate float64
}

// Synchronizer releases transcript text in lockstep with audio playback.
//
// The speech pipeline pushes the text being synthesized (aligned word
// timings when the TTS supports them, plain text otherwise) and the playout
// loop calls Advance with the current playback position to collect the
// characters that are now due. It keeps no internal timers; callers drive it.
type Synchronizer struct {
	mu      sync.Mutex
	rate    *SpeakingRateData
	text    []rune
	emitted int
}

// NewSynchronizer returns an empty synchronizer.
func NewSynchronizer(opts SynchronizerOptions) *Synchronizer {
	r := opts.SpeakingRate
	if r == 0 {
		r = DefaultSpeakingRate
	}
	s := &Synchronizer{rate: NewSpeakingRateData()}
	s.rate.AddByRate(0, r)
	return s
}

// PushText queues unaligned transcript text, spoken at the fallback rate.
func (s *Synchronizer) PushText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = append(s.text, []rune(text)...)
}

// PushTimed queues transcript text with an exact end position from the
// synthesizer's aligned transcript.
func (s *Synchronizer) PushTimed(ts tts.TimedString) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = append(s.text, []rune(ts.Text)...)
	s.rate.AddByAnnotation(ts.Text, ts.EndTime)
}

// Advance returns the transcript characters that became due by playback
// position t. Successive calls return disjoint, contiguous pieces.
func (s *Synchronizer) Advance(t time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := int(math.Ceil(s.rate.AccumulateTo(t)))
	if due > len(s.text) {
		due = len(s.text)
	}
	if due <= s.emitted {
		return ""
	}
	out := string(s.text[s.emitted:due])
	s.emitted = due
	return out
}

// Finish returns everything not yet emitted. Call it when playback
// completed naturally, so trailing text is not lost to rate rounding.
func (s *Synchronizer) Finish() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitted >= len(s.text) {
		return ""
	}
	out := string(s.text[s.emitted:])
	s.emitted = len(s.text)
	return out
}

// Emitted returns the transcript released so far.
func (s *Synchronizer) Emitted() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.text[:s.emitted])
}
