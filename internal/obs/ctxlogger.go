package obs

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a zerolog.Logger enriched with trace_id/span_id
// from ctx whenever it carries a trace id; trace_sampled=true is added when
// the span is sampled.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
		if sc.HasSpanID() {
			l = l.With().Str("span_id", sc.SpanID().String()).Logger()
		}
		if sc.IsSampled() {
			l = l.With().Bool("trace_sampled", true).Logger()
		}
	}
	return &l
}

// TraceIDFromContext extracts the current trace id, or "" if none.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
