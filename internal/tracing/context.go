package tracing

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext holds the correlation IDs attached to log lines, spans and
// audit records. It is stored in a context as one value; every With call
// copies it.
type TraceContext struct {
	TraceID   string
	TurnID    string
	AgentID   string
	SessionID string
	RequestID string
}

type traceContextKey struct{}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// FromContext returns the correlation IDs carried by ctx
func FromContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	tc, _ := ctx.Value(traceContextKey{}).(TraceContext)
	return tc
}

// NewContext replaces the correlation IDs carried by ctx with tc
func NewContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

func update(ctx context.Context, set func(*TraceContext)) context.Context {
	tc := FromContext(ctx)
	set(&tc)
	return NewContext(ctx, tc)
}

// WithTraceID sets the trace ID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.TraceID = traceID })
}

// WithTurnID sets the ID of the turn being executed
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.TurnID = turnID })
}

// WithAgentID sets the agent ID
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.AgentID = agentID })
}

// WithSessionID sets the session ID
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.SessionID = sessionID })
}

// WithRequestID sets the transport request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.RequestID = requestID })
}

func GetTraceID(ctx context.Context) string   { return FromContext(ctx).TraceID }
func GetTurnID(ctx context.Context) string    { return FromContext(ctx).TurnID }
func GetAgentID(ctx context.Context) string   { return FromContext(ctx).AgentID }
func GetSessionID(ctx context.Context) string { return FromContext(ctx).SessionID }
func GetRequestID(ctx context.Context) string { return FromContext(ctx).RequestID }

// NewTurnContext tags a context for one turn, keeping an existing trace ID
func NewTurnContext(ctx context.Context, agentID, sessionID, turnID string) context.Context {
	return update(ctx, func(tc *TraceContext) {
		if tc.TraceID == "" {
			tc.TraceID = NewTraceID()
		}
		tc.AgentID = agentID
		tc.SessionID = sessionID
		tc.TurnID = turnID
	})
}
