// Package observe provides application-wide observability primitives for
// Cadenza: OpenTelemetry metrics, distributed tracing, and the bridge that
// folds pipeline metric records onto OTel instruments.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cadenzametrics "github.com/MrWong99/cadenza/pkg/metrics"
)

// meterName is the instrumentation scope name used for all Cadenza metrics.
const meterName = "github.com/MrWong99/cadenza"

// Metrics holds all OpenTelemetry metric instruments for the worker.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text recognition latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat generation latency; LLMTTFT the time to the
	// first token.
	LLMDuration metric.Float64Histogram
	LLMTTFT     metric.Float64Histogram

	// TTSDuration tracks synthesis latency; TTSTTFB the time to the first
	// audio byte.
	TTSDuration metric.Float64Histogram
	TTSTTFB     metric.Float64Histogram

	// EOUDelay tracks the time from end of user speech to turn commit.
	EOUDelay metric.Float64Histogram

	// --- Counters ---

	// LLMTokens counts prompt and completion tokens. Use with attributes:
	//   attribute.String("label", ...), attribute.String("type", "prompt"|"completion")
	LLMTokens metric.Int64Counter

	// TTSCharacters counts billed synthesis input characters.
	TTSCharacters metric.Int64Counter

	// STTAudioSeconds counts billed recognition audio.
	STTAudioSeconds metric.Float64Counter

	// Speeches counts scheduled agent speeches. Use with attribute:
	//   attribute.String("source", ...)
	Speeches metric.Int64Counter

	// Interruptions counts user interruptions of agent speech.
	Interruptions metric.Int64Counter

	// JobsLaunched counts jobs accepted from the dispatch server.
	JobsLaunched metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// WarmProcesses tracks the number of initialized idle job processes.
	WarmProcesses metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("cadenza.stt.duration",
		metric.WithDescription("Latency of speech-to-text recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("cadenza.llm.duration",
		metric.WithDescription("Latency of chat generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMTTFT, err = m.Float64Histogram("cadenza.llm.ttft",
		metric.WithDescription("Time to first generated token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("cadenza.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSTTFB, err = m.Float64Histogram("cadenza.tts.ttfb",
		metric.WithDescription("Time to first synthesized audio byte."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EOUDelay, err = m.Float64Histogram("cadenza.eou.delay",
		metric.WithDescription("Time from end of user speech to turn commit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.LLMTokens, err = m.Int64Counter("cadenza.llm.tokens",
		metric.WithDescription("Total LLM tokens by label and type."),
	); err != nil {
		return nil, err
	}
	if met.TTSCharacters, err = m.Int64Counter("cadenza.tts.characters",
		metric.WithDescription("Total billed synthesis input characters."),
	); err != nil {
		return nil, err
	}
	if met.STTAudioSeconds, err = m.Float64Counter("cadenza.stt.audio_seconds",
		metric.WithDescription("Total billed recognition audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Speeches, err = m.Int64Counter("cadenza.speeches",
		metric.WithDescription("Total scheduled agent speeches by source."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("cadenza.interruptions",
		metric.WithDescription("Total user interruptions of agent speech."),
	); err != nil {
		return nil, err
	}
	if met.JobsLaunched, err = m.Int64Counter("cadenza.jobs.launched",
		metric.WithDescription("Total jobs accepted from the dispatch server."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("cadenza.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadenza.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.WarmProcesses, err = m.Int64UpDownCounter("cadenza.warm_processes",
		metric.WithDescription("Number of initialized idle job processes."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMetric folds one pipeline metric record onto the OTel instruments.
// Wire it to the session's MetricsCollected events.
func (m *Metrics) RecordMetric(ctx context.Context, rec cadenzametrics.Record) {
	switch r := rec.(type) {
	case cadenzametrics.LLMMetrics:
		label := metric.WithAttributes(attribute.String("label", r.Label))
		m.LLMDuration.Record(ctx, r.Duration.Seconds(), label)
		if r.TTFT > 0 {
			m.LLMTTFT.Record(ctx, r.TTFT.Seconds(), label)
		}
		if r.PromptTokens > 0 {
			m.LLMTokens.Add(ctx, int64(r.PromptTokens), metric.WithAttributes(
				attribute.String("label", r.Label),
				attribute.String("type", "prompt"),
			))
		}
		if r.CompletionTokens > 0 {
			m.LLMTokens.Add(ctx, int64(r.CompletionTokens), metric.WithAttributes(
				attribute.String("label", r.Label),
				attribute.String("type", "completion"),
			))
		}
	case cadenzametrics.STTMetrics:
		label := metric.WithAttributes(attribute.String("label", r.Label))
		if r.Duration > 0 {
			m.STTDuration.Record(ctx, r.Duration.Seconds(), label)
		}
		if r.AudioDuration > 0 {
			m.STTAudioSeconds.Add(ctx, r.AudioDuration.Seconds(), label)
		}
	case cadenzametrics.TTSMetrics:
		label := metric.WithAttributes(attribute.String("label", r.Label))
		m.TTSDuration.Record(ctx, r.Duration.Seconds(), label)
		if r.TTFB > 0 {
			m.TTSTTFB.Record(ctx, r.TTFB.Seconds(), label)
		}
		if r.CharacterCount > 0 {
			m.TTSCharacters.Add(ctx, int64(r.CharacterCount), label)
		}
	case cadenzametrics.EOUMetrics:
		m.EOUDelay.Record(ctx, r.EndOfUtteranceDelay.Seconds(),
			metric.WithAttributes(attribute.String("label", r.Label)))
	}
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSpeech records a scheduled speech counter increment by source.
func (m *Metrics) RecordSpeech(ctx context.Context, source string) {
	m.Speeches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
