package turn_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/cadenza/pkg/provider/llm"
	"github.com/MrWong99/cadenza/pkg/turn"
)

type stubExecutor struct {
	lastMethod string
	lastData   json.RawMessage
	resp       json.RawMessage
	err        error
}

func (s *stubExecutor) RunInference(ctx context.Context, method string, data json.RawMessage) (json.RawMessage, error) {
	s.lastMethod = method
	s.lastData = data
	return s.resp, s.err
}

func TestDetector_ThresholdLookup(t *testing.T) {
	t.Parallel()

	d, err := turn.NewDetector(&stubExecutor{}, turn.DetectorOptions{
		ThresholdOverrides: map[string]float64{"en": 0.5},
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	if th, ok := d.UnlikelyThreshold("en-US"); !ok || th != 0.5 {
		t.Errorf("en-US: want override 0.5, got %v %v", th, ok)
	}
	if th, ok := d.UnlikelyThreshold("DE"); !ok || th <= 0 {
		t.Errorf("DE: want bundled threshold, got %v %v", th, ok)
	}
	if d.SupportsLanguage("xx") {
		t.Error("xx: want unsupported")
	}
}

func TestDetector_PredictSendsNormalizedTurns(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{resp: json.RawMessage(`{"eou_probability":0.82}`)}
	d, err := turn.NewDetector(exec, turn.DetectorOptions{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	chatCtx := llm.NewChatContext()
	chatCtx.AddMessage(llm.RoleSystem, "be helpful")
	chatCtx.AddMessage(llm.RoleUser, "so I was thinking")
	chatCtx.AddMessage(llm.RoleUser, "about the weather.")
	chatCtx.AddMessage(llm.RoleAssistant, "Go on.")
	chatCtx.AddMessage(llm.RoleUser, "maybe tomorrow it will rain?")

	if got := d.PredictEndOfTurn(context.Background(), chatCtx); got != 0.82 {
		t.Errorf("probability: want 0.82, got %v", got)
	}
	if exec.lastMethod != turn.InferenceMethod {
		t.Errorf("method: %q", exec.lastMethod)
	}

	var req turn.Request
	if err := json.Unmarshal(exec.lastData, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	want := []turn.Turn{
		{Role: "user", Content: "so I was thinking about the weather."},
		{Role: "assistant", Content: "Go on."},
		{Role: "user", Content: "maybe tomorrow it will rain"},
	}
	if len(req.Turns) != len(want) {
		t.Fatalf("turns: want %d, got %d (%+v)", len(want), len(req.Turns), req.Turns)
	}
	for i := range want {
		if req.Turns[i] != want[i] {
			t.Errorf("turn %d: want %+v, got %+v", i, want[i], req.Turns[i])
		}
	}
}

func TestDetector_FailuresDisableGating(t *testing.T) {
	t.Parallel()

	exec := &stubExecutor{err: errors.New("runner gone")}
	d, err := turn.NewDetector(exec, turn.DetectorOptions{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	chatCtx := llm.NewChatContext()
	chatCtx.AddMessage(llm.RoleUser, "hello there")

	if got := d.PredictEndOfTurn(context.Background(), chatCtx); got != turn.ProbabilityUnavailable {
		t.Errorf("on failure: want ProbabilityUnavailable, got %v", got)
	}
	if got := d.PredictEndOfTurn(context.Background(), llm.NewChatContext()); got != turn.ProbabilityUnavailable {
		t.Errorf("empty context: want ProbabilityUnavailable, got %v", got)
	}
}
