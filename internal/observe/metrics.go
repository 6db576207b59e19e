// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware for the ops endpoint.
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
)

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/earshot-ai/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// VADScoreDuration tracks per-window voice-activity scoring latency.
	VADScoreDuration metric.Float64Histogram

	// WakeClassifyDuration tracks wake-word batch classification latency.
	WakeClassifyDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// IntentDuration tracks intent-inference latency.
	IntentDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// CommandDuration tracks end-to-end latency from wake detection to the
	// end of playback.
	CommandDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool handler latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// WakeDetections counts accepted wake-word detections. Use with attribute:
	//   attribute.String("wake_word", ...)
	WakeDetections metric.Int64Counter

	// Utterances counts captured command utterances.
	Utterances metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts inference-engine errors. Use with attribute:
	//   attribute.String("engine", ...)
	EngineErrors metric.Int64Counter

	// DroppedChunks counts audio chunks dropped while the detector was paused
	// or a subscriber buffer was full.
	DroppedChunks metric.Int64Counter

	// --- Gauges ---

	// ActivePipelines tracks the number of running pipeline instances.
	ActivePipelines metric.Int64UpDownCounter

	// OpenSessions tracks the number of open recording sessions (0 or 1 per
	// pipeline).
	OpenSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops-endpoint request processing time. Use
	// with attributes:
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
	if met.VADScoreDuration, err = m.Float64Histogram("earshot.vad.score.duration",
		metric.WithDescription("Latency of per-window voice-activity scoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WakeClassifyDuration, err = m.Float64Histogram("earshot.wake.classify.duration",
		metric.WithDescription("Latency of wake-word batch classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntentDuration, err = m.Float64Histogram("earshot.intent.duration",
		metric.WithDescription("Latency of intent inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("earshot.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommandDuration, err = m.Float64Histogram("earshot.command.duration",
		metric.WithDescription("End-to-end latency from wake detection to response playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("earshot.tool_execution.duration",
		metric.WithDescription("Latency of tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WakeDetections, err = m.Int64Counter("earshot.wake.detections",
		metric.WithDescription("Total accepted wake-word detections by wake word."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("earshot.utterances",
		metric.WithDescription("Total captured command utterances."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("earshot.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("earshot.engine.errors",
		metric.WithDescription("Total inference-engine errors by engine."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("earshot.audio.dropped_chunks",
		metric.WithDescription("Total audio chunks dropped while paused or backlogged."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePipelines, err = m.Int64UpDownCounter("earshot.active_pipelines",
		metric.WithDescription("Number of running pipeline instances."),
	); err != nil {
		return nil, err
	}
	if met.OpenSessions, err = m.Int64UpDownCounter("earshot.open_sessions",
		metric.WithDescription("Number of currently open recording sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("Ops endpoint request latency by method and path."),
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

// RecordWakeDetection records one accepted wake-word detection.
func (m *Metrics) RecordWakeDetection(ctx context.Context, wakeWord string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("wake_word", wakeWord)),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordEngineError records an inference-engine error counter increment.
func (m *Metrics) RecordEngineError(ctx context.Context, engine string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}
