package voice

import "time"

// OverlapClassifier judges whether user speech overlapping agent playout is
// a genuine interruption or a backchannel ("mm-hm", "right") that should
// leave the agent talking. transcript is the overlapping speech so far,
// empty for bare voice-activity signals; playedFor is how long the current
// speech has been playing.
type OverlapClassifier interface {
	IsInterruption(transcript string, playedFor time.Duration) bool
}

// AlwaysInterrupt treats every overlap as a genuine interruption. It is the
// behavior used when no classifier is configured.
type AlwaysInterrupt struct{}

var _ OverlapClassifier = AlwaysInterrupt{}

func (AlwaysInterrupt) IsInterruption(string, time.Duration) bool { return true }
