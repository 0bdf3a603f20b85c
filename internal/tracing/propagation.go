package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LoggerFromContext returns base with the correlation IDs carried by ctx.
// When ctx holds a valid span its OpenTelemetry span_id is added too, so log
// lines can be joined with exported spans.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := base.With()
	for _, f := range []struct{ key, value string }{
		{"trace_id", tc.TraceID},
		{"turn_id", tc.TurnID},
		{"agent_id", tc.AgentID},
		{"session_id", tc.SessionID},
		{"request_id", tc.RequestID},
	} {
		if f.value != "" {
			lc = lc.Str(f.key, f.value)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		lc = lc.Str("span_id", sc.SpanID().String())
	}
	return lc.Logger()
}

// Detach copies correlation IDs and the active span context onto a fresh
// background context, for work that must outlive the caller's cancellation.
func Detach(ctx context.Context) context.Context {
	detached := NewContext(context.Background(), FromContext(ctx))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		detached = trace.ContextWithSpanContext(detached, sc)
	}
	return detached
}
