package metrics

import (
	"sync"
	"time"
)

// UsageSummary is the billing-relevant aggregate of a session.
type UsageSummary struct {
	LLMPromptTokens      int
	LLMCompletionTokens  int
	TTSCharacterCount    int
	STTAudioDuration     time.Duration
	RealtimeInputTokens  int
	RealtimeOutputTokens int
}

// Add returns the element-wise sum of s and other.
func (s UsageSummary) Add(other UsageSummary) UsageSummary {
	return UsageSummary{
		LLMPromptTokens:      s.LLMPromptTokens + other.LLMPromptTokens,
		LLMCompletionTokens:  s.LLMCompletionTokens + other.LLMCompletionTokens,
		TTSCharacterCount:    s.TTSCharacterCount + other.TTSCharacterCount,
		STTAudioDuration:     s.STTAudioDuration + other.STTAudioDuration,
		RealtimeInputTokens:  s.RealtimeInputTokens + other.RealtimeInputTokens,
		RealtimeOutputTokens: s.RealtimeOutputTokens + other.RealtimeOutputTokens,
	}
}

// UsageCollector folds metric records into a running UsageSummary. Safe for
// concurrent use.
type UsageCollector struct {
	mu      sync.Mutex
	summary UsageSummary
}

// NewUsageCollector returns an empty collector.
func NewUsageCollector() *UsageCollector {
	return &UsageCollector{}
}

// Collect folds one record into the summary. Records that carry no usage
// (VAD, EOU) are ignored.
func (c *UsageCollector) Collect(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m := r.(type) {
	case LLMMetrics:
		c.summary.LLMPromptTokens += m.PromptTokens
		c.summary.LLMCompletionTokens += m.CompletionTokens
	case TTSMetrics:
		c.summary.TTSCharacterCount += m.CharacterCount
	case STTMetrics:
		c.summary.STTAudioDuration += m.AudioDuration
	case RealtimeModelMetrics:
		c.summary.RealtimeInputTokens += m.InputTokens
		c.summary.RealtimeOutputTokens += m.OutputTokens
	}
}

// Summary returns a copy of the aggregate so far.
func (c *UsageCollector) Summary() UsageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}
