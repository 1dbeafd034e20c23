// Package turn implements end-of-utterance (EOU) detection: deciding, from
// the recent conversation, how likely it is that the user has finished
// speaking rather than paused mid-thought.
//
// The model itself runs in a sibling process; Detector serializes the last
// few chat turns, dispatches them through an inference executor, and maps
// the returned probability against a per-language "unlikely" threshold. A
// probability below the threshold means the user probably is not done, and
// the session extends its endpointing delay before committing the turn.
package turn

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/cadenza/pkg/provider/llm"
)

// InferenceMethod is the registered method name for EOU prediction on the
// inference process.
const InferenceMethod = "eou_detection"

// maxTurns is how many trailing chat turns are sent to the model.
const maxTurns = 4

// defaultTimeout bounds one prediction round trip.
const defaultTimeout = 3 * time.Second

// ProbabilityUnavailable is returned when prediction is impossible
// (unsupported language, timeout, executor failure). It never falls below
// any threshold, so endpointing gating is effectively disabled.
const ProbabilityUnavailable = 1.0

//go:embed thresholds.json
var thresholdsJSON []byte

// Turn is one normalized conversation turn sent to the model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the inference payload for [InferenceMethod].
type Request struct {
	Turns []Turn `json:"turns"`
}

// Response is the inference result for [InferenceMethod].
type Response struct {
	Probability float64 `json:"eou_probability"`
}

// InferenceExecutor dispatches a named inference run to wherever the model
// lives. *ipc.Proc satisfies it.
type InferenceExecutor interface {
	RunInference(ctx context.Context, method string, data json.RawMessage) (json.RawMessage, error)
}

// DetectorOptions tunes a Detector.
type DetectorOptions struct {
	// Timeout bounds one prediction. Default 3s.
	Timeout time.Duration

	// ThresholdOverrides replaces the bundled per-language thresholds.
	// Keys are lowercase base language codes ("en", not "en-US").
	ThresholdOverrides map[string]float64
}

// Detector predicts end-of-utterance probability via an inference executor.
type Detector struct {
	exec       InferenceExecutor
	timeout    time.Duration
	thresholds map[string]float64
	overrides  map[string]float64
}

// NewDetector returns a detector backed by exec.
func NewDetector(exec InferenceExecutor, opts DetectorOptions) (*Detector, error) {
	var table map[string]float64
	if err := json.Unmarshal(thresholdsJSON, &table); err != nil {
		return nil, fmt.Errorf("parse bundled thresholds: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Detector{
		exec:       exec,
		timeout:    timeout,
		thresholds: table,
		overrides:  opts.ThresholdOverrides,
	}, nil
}

// UnlikelyThreshold returns the probability below which the user is assumed
// to still be mid-utterance, and whether the language is supported.
func (d *Detector) UnlikelyThreshold(language string) (float64, bool) {
	lang := normalizeLanguage(language)
	if t, ok := d.overrides[lang]; ok {
		return t, true
	}
	t, ok := d.thresholds[lang]
	return t, ok
}

// SupportsLanguage reports whether a threshold exists for language.
func (d *Detector) SupportsLanguage(language string) bool {
	_, ok := d.UnlikelyThreshold(language)
	return ok
}

// PredictEndOfTurn returns the probability that the user finished their
// utterance, given the trailing conversation. Failures return
// [ProbabilityUnavailable] so callers never gate on a missing prediction.
func (d *Detector) PredictEndOfTurn(ctx context.Context, chatCtx *llm.ChatContext) float64 {
	turns := collectTurns(chatCtx)
	if len(turns) == 0 {
		return ProbabilityUnavailable
	}
	payload, err := json.Marshal(Request{Turns: turns})
	if err != nil {
		slog.Warn("eou: marshal request", "err", err)
		return ProbabilityUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	raw, err := d.exec.RunInference(ctx, InferenceMethod, payload)
	if err != nil {
		slog.Warn("eou: inference failed", "err", err)
		return ProbabilityUnavailable
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Warn("eou: decode response", "err", err)
		return ProbabilityUnavailable
	}
	return resp.Probability
}

// collectTurns normalizes the trailing chat history for the model: only
// messages, adjacent same-role turns merged, at most maxTurns entries, and
// the end-marker punctuation of the final utterance stripped so the model
// judges the words, not the transcriber's formatting.
func collectTurns(chatCtx *llm.ChatContext) []Turn {
	if chatCtx == nil {
		return nil
	}
	var turns []Turn
	for _, item := range chatCtx.Items() {
		msg, ok := item.(*llm.Message)
		if !ok || msg.Role == llm.RoleSystem {
			continue
		}
		text := strings.TrimSpace(msg.Text())
		if text == "" {
			continue
		}
		role := string(msg.Role)
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += " " + text
			continue
		}
		turns = append(turns, Turn{Role: role, Content: text})
	}
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	if n := len(turns); n > 0 {
		turns[n-1].Content = stripEndMarkers(turns[n-1].Content)
	}
	return turns
}

func stripEndMarkers(text string) string {
	return strings.TrimRight(text, ".!?。！？ ")
}

func normalizeLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
