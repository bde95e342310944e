package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns base enriched with trace_id/span_id from ctx (if
// its span context carries a trace id, sampled or not; trace_sampled is
// added only for sampled spans) plus the promptId/depth identifying which RLM
// environment emitted the line, so a log line and its matching OTel span
// can be correlated without re-deriving either from the other.
func LoggerWithTrace(ctx context.Context, base zerolog.Logger, promptID string, depth int) *zerolog.Logger {
	l := base.With().Int("depth", depth).Logger()
	if promptID != "" {
		l = l.With().Str("prompt_id", promptID).Logger()
	}
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
