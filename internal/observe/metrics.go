// Package observe provides application-wide observability primitives for
// Antiphon: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Antiphon metrics.
const meterName = "github.com/antiphonlabs/antiphon"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// TranscriptionDuration tracks time spent in the transcribing stage.
	TranscriptionDuration metric.Float64Histogram

	// GenerationDuration tracks time spent in the generating stage.
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks time a turn spent synthesizing speech.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks time a turn spent playing audio.
	PlaybackDuration metric.Float64Histogram

	// TurnDuration tracks the whole turn, open to close.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsOpened counts opened turns. Use with attribute:
	//   attribute.String("reason", "utterance"|"text"|"barge_in"|"proactive")
	TurnsOpened metric.Int64Counter

	// TurnsFinished counts finished turns. Use with attribute:
	//   attribute.String("outcome", "closed"|"stale"|<failure kind>)
	TurnsFinished metric.Int64Counter

	// BargeIns counts user interruptions that invalidated a speaking turn.
	BargeIns metric.Int64Counter

	// SegmentsPlayed counts reply segments that reached the output device.
	SegmentsPlayed metric.Int64Counter

	// SegmentsSkipped counts segments dropped after synthesis or playback
	// failure. Use with attribute:
	//   attribute.String("kind", "synthesis_failed"|"playback_failed")
	SegmentsSkipped metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// GatewayClients tracks the number of connected UI shell clients.
	GatewayClients metric.Int64UpDownCounter

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
	if met.TranscriptionDuration, err = m.Float64Histogram("antiphon.asr.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("antiphon.gen.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("antiphon.tts.duration",
		metric.WithDescription("Time a turn spent synthesizing speech."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("antiphon.playback.duration",
		metric.WithDescription("Time a turn spent playing audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("antiphon.turn.duration",
		metric.WithDescription("Whole-turn latency from open to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsOpened, err = m.Int64Counter("antiphon.turns.opened",
		metric.WithDescription("Total turns opened, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TurnsFinished, err = m.Int64Counter("antiphon.turns.finished",
		metric.WithDescription("Total turns finished, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("antiphon.barge_ins",
		metric.WithDescription("Total user interruptions that invalidated a speaking turn."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsPlayed, err = m.Int64Counter("antiphon.segments.played",
		metric.WithDescription("Total reply segments that reached the output device."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsSkipped, err = m.Int64Counter("antiphon.segments.skipped",
		metric.WithDescription("Total reply segments skipped after failure, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("antiphon.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.GatewayClients, err = m.Int64UpDownCounter("antiphon.gateway.clients",
		metric.WithDescription("Number of connected UI shell clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("antiphon.http.request.duration",
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

// RecordTurnOpened is a convenience method that records a turn-opened
// counter increment with the standard reason attribute.
func (m *Metrics) RecordTurnOpened(ctx context.Context, reason string) {
	m.TurnsOpened.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTurnFinished is a convenience method that records a turn-finished
// counter increment with the standard outcome attribute.
func (m *Metrics) RecordTurnFinished(ctx context.Context, outcome string) {
	m.TurnsFinished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordSegmentSkipped is a convenience method that records a skipped-segment
// counter increment with the standard kind attribute.
func (m *Metrics) RecordSegmentSkipped(ctx context.Context, kind string) {
	m.SegmentsSkipped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
