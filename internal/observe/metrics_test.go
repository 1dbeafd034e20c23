package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	cadenzametrics "github.com/MrWong99/cadenza/pkg/metrics"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q has no data points", name)
	}
	return hist.DataPoints[0].Count
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordMetric_LLM(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	rec := cadenzametrics.NewLLMMetrics("openai", "req_1", "speech_1")
	rec.Duration = 800 * time.Millisecond
	rec.TTFT = 120 * time.Millisecond
	rec.PromptTokens = 200
	rec.CompletionTokens = 50
	m.RecordMetric(ctx, rec)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "cadenza.llm.duration"); got != 1 {
		t.Errorf("duration samples = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "cadenza.llm.ttft"); got != 1 {
		t.Errorf("ttft samples = %d, want 1", got)
	}

	met := findMetric(rm, "cadenza.llm.tokens")
	if met == nil {
		t.Fatal("token counter not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("token metric is not a sum")
	}
	byType := map[string]int64{}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "type" {
				byType[kv.Value.AsString()] = dp.Value
			}
		}
	}
	if byType["prompt"] != 200 || byType["completion"] != 50 {
		t.Errorf("token counts = %v, want prompt=200 completion=50", byType)
	}
}

func TestRecordMetric_TTSAndSTT(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	tt := cadenzametrics.NewTTSMetrics("eleven", "req_2", "speech_1")
	tt.Duration = 400 * time.Millisecond
	tt.TTFB = 90 * time.Millisecond
	tt.CharacterCount = 42
	m.RecordMetric(ctx, tt)

	st := cadenzametrics.NewSTTMetrics("deepgram", "req_3")
	st.AudioDuration = 3 * time.Second
	m.RecordMetric(ctx, st)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "cadenza.tts.duration"); got != 1 {
		t.Errorf("tts duration samples = %d, want 1", got)
	}
	if got := histogramCount(t, rm, "cadenza.tts.ttfb"); got != 1 {
		t.Errorf("tts ttfb samples = %d, want 1", got)
	}

	chars := findMetric(rm, "cadenza.tts.characters")
	if chars == nil {
		t.Fatal("character counter not found")
	}
	if sum := chars.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 42 {
		t.Errorf("characters = %d, want 42", sum.DataPoints[0].Value)
	}

	audio := findMetric(rm, "cadenza.stt.audio_seconds")
	if audio == nil {
		t.Fatal("audio counter not found")
	}
	if sum := audio.Data.(metricdata.Sum[float64]); sum.DataPoints[0].Value != 3 {
		t.Errorf("audio seconds = %f, want 3", sum.DataPoints[0].Value)
	}
}

func TestRecordMetric_EOU(t *testing.T) {
	m, reader := newTestMetrics(t)

	rec := cadenzametrics.NewEOUMetrics("deepgram", "speech_2")
	rec.EndOfUtteranceDelay = 600 * time.Millisecond
	m.RecordMetric(context.Background(), rec)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "cadenza.eou.delay"); got != 1 {
		t.Errorf("eou samples = %d, want 1", got)
	}
}

func TestRecordProviderError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "openai", "llm")

	rm := collect(t, reader)
	met := findMetric(rm, "cadenza.provider.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Error("provider error not counted")
	}
}

func TestRecordSpeech(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSpeech(ctx, "say")
	m.RecordSpeech(ctx, "say")
	m.RecordSpeech(ctx, "generate")

	rm := collect(t, reader)
	met := findMetric(rm, "cadenza.speeches")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "source" && kv.Value.AsString() == "say" {
				if dp.Value != 2 {
					t.Errorf("say count = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with source=say not found")
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.WarmProcesses.Add(ctx, 2)
	m.WarmProcesses.Add(ctx, -1)

	rm := collect(t, reader)
	gauges := []struct {
		name string
		want int64
	}{
		{"cadenza.active_sessions", 2},
		{"cadenza.warm_processes", 1},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
