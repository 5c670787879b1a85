// Package observe provides application-wide observability primitives for
// Callweave: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Callweave metrics.
const meterName = "github.com/callweave/callweave"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
//
// Every Record/Add method is safe to call on a nil *Metrics, which disables
// recording. Components take a *Metrics and simply pass nil through when
// telemetry is not wired up.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency, from final
	// audio frame to final transcript.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech time to first audio chunk.
	TTSDuration metric.Float64Histogram

	// ToolExecutionDuration tracks dispatch backend tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// WebhookDuration tracks dashboard webhook delivery latency.
	WebhookDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts dispatch tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AgentTurns counts spoken agent turns. Use with attribute:
	//   attribute.String("state", ...)
	AgentTurns metric.Int64Counter

	// BargeIns counts caller interruptions that clipped agent playback.
	BargeIns metric.Int64Counter

	// TTSFallbacks counts synthesis turns served by a fallback provider.
	// Use with attribute: attribute.String("provider", ...)
	TTSFallbacks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live phone calls.
	ActiveCalls metric.Int64UpDownCounter

	// ActiveExtractions tracks in-flight background extraction requests.
	ActiveExtractions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
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
	if met.STTDuration, err = m.Float64Histogram("callweave.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("callweave.llm.duration",
		metric.WithDescription("Latency of LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("callweave.tts.duration",
		metric.WithDescription("Time from synthesis start to first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("callweave.tool_execution.duration",
		metric.WithDescription("Latency of dispatch backend tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WebhookDuration, err = m.Float64Histogram("callweave.webhook.duration",
		metric.WithDescription("Latency of dashboard webhook deliveries by target and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("callweave.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("callweave.tool.calls",
		metric.WithDescription("Total dispatch tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AgentTurns, err = m.Int64Counter("callweave.agent.turns",
		metric.WithDescription("Total spoken agent turns by dialog state."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("callweave.barge_ins",
		metric.WithDescription("Total caller barge-ins that clipped agent playback."),
	); err != nil {
		return nil, err
	}
	if met.TTSFallbacks, err = m.Int64Counter("callweave.tts.fallbacks",
		metric.WithDescription("Total synthesis turns served by a fallback provider."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("callweave.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("callweave.active_calls",
		metric.WithDescription("Number of live phone calls."),
	); err != nil {
		return nil, err
	}
	if met.ActiveExtractions, err = m.Int64UpDownCounter("callweave.active_extractions",
		metric.WithDescription("Number of in-flight background extraction requests."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callweave.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordSTTDuration records a speech-to-text transcription latency sample.
func (m *Metrics) RecordSTTDuration(ctx context.Context, d time.Duration, provider string) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordLLMDuration records an LLM completion latency sample. The purpose
// attribute separates dialog turns from extraction and classification calls.
func (m *Metrics) RecordLLMDuration(ctx context.Context, d time.Duration, provider, purpose string) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("purpose", purpose),
		),
	)
}

// RecordTTSDuration records a time-to-first-audio sample for a synthesis turn.
func (m *Metrics) RecordTTSDuration(ctx context.Context, d time.Duration, provider string) {
	if m == nil {
		return
	}
	m.TTSDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordToolDuration records a dispatch tool execution latency sample.
func (m *Metrics) RecordToolDuration(ctx context.Context, d time.Duration, tool string) {
	if m == nil {
		return
	}
	m.ToolExecutionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordWebhookDelivery records a dashboard webhook delivery with its latency
// and outcome.
func (m *Metrics) RecordWebhookDelivery(ctx context.Context, d time.Duration, target, status string) {
	if m == nil {
		return
	}
	m.WebhookDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("target", target),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records a dispatch tool invocation counter increment.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordAgentTurn records a spoken agent turn in the given dialog state.
func (m *Metrics) RecordAgentTurn(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.AgentTurns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordBargeIn records a caller interruption that clipped agent playback.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.BargeIns.Add(ctx, 1)
}

// RecordTTSFallback records a synthesis turn served by a fallback provider.
func (m *Metrics) RecordTTSFallback(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.TTSFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// AddActiveCalls adjusts the live call gauge by delta.
func (m *Metrics) AddActiveCalls(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveCalls.Add(ctx, delta)
}

// AddActiveExtractions adjusts the in-flight extraction gauge by delta.
func (m *Metrics) AddActiveExtractions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveExtractions.Add(ctx, delta)
}
