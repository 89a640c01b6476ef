package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Antiphon tracer.
const tracerName = "github.com/antiphonlabs/antiphon"

// Tracer returns the package-level [trace.Tracer] for Antiphon. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTurnSpan starts the span covering one conversational turn. The span
// carries the session and turn identity plus the trigger ("user" or
// "proactive") so a trace backend can group turns per session. Outcome is
// attached later via [TurnOutcome].
func StartTurnSpan(ctx context.Context, sessionID string, turnID uint64, proactive bool) (context.Context, trace.Span) {
	trigger := "user"
	if proactive {
		trigger = "proactive"
	}
	return Tracer().Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int64("turn.id", int64(turnID)),
			attribute.String("turn.trigger", trigger),
		))
}

// TurnOutcome records how a turn ended ("closed", "stale", a fault kind) on
// its span.
func TurnOutcome(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("turn.outcome", outcome))
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the X-Correlation-ID response header value.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
