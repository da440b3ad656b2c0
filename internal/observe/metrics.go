// Package observe provides application-wide observability primitives for
// Voicewire: OpenTelemetry metrics and the provider setup that exposes them
// via a Prometheus /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voicewire metrics.
const meterName = "github.com/MrWong99/voicewire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureDuration tracks how long user speech was captured per turn.
	CaptureDuration metric.Float64Histogram

	// TranscriptionDuration tracks commit → response.created latency
	// (speech-to-text conversion plus service pre-processing).
	TranscriptionDuration metric.Float64Histogram

	// InferenceDuration tracks response.created → response.done latency.
	InferenceDuration metric.Float64Histogram

	// ToolExecutionDuration tracks action dispatch latency.
	ToolExecutionDuration metric.Float64Histogram

	// SynthesisDuration tracks the span over which response audio was generated.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks response playback time.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts committed user turns.
	Turns metric.Int64Counter

	// ToolCalls counts action invocations. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ProtocolErrors counts error events received from the service.
	ProtocolErrors metric.Int64Counter

	// DroppedEvents counts inbound messages dropped because they could not
	// be decoded.
	DroppedEvents metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
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

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.CaptureDuration, "voicewire.capture.duration", "Duration of user speech capture per turn."},
		{&met.TranscriptionDuration, "voicewire.transcription.duration", "Latency from buffer commit to response creation."},
		{&met.InferenceDuration, "voicewire.inference.duration", "Latency of model inference per response."},
		{&met.ToolExecutionDuration, "voicewire.tool_execution.duration", "Latency of action dispatch."},
		{&met.SynthesisDuration, "voicewire.synthesis.duration", "Span of response audio generation."},
		{&met.PlaybackDuration, "voicewire.playback.duration", "Duration of response playback."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("voicewire.turns",
		metric.WithDescription("Total user turns committed for inference."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voicewire.tool.calls",
		metric.WithDescription("Total action invocations by action name and status."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("voicewire.protocol.errors",
		metric.WithDescription("Total error events received from the realtime service."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("voicewire.events.dropped",
		metric.WithDescription("Total inbound messages dropped due to decode failures."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicewire.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// RecordToolCall is a convenience method that records an action invocation
// counter increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, action, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}
