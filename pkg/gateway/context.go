package gateway

import (
	"context"

	"github.com/harun/agentic/internal/tracing"
)

const (
	transportWebSocket = "ws"
	transportHTTP      = "http"
)

// caller identifies the origin of an RPC. Only websocket callers have a
// client that can receive pushed turn events.
type caller struct {
	Transport string
	ClientID  string
}

type callerKey struct{}

func withCaller(ctx context.Context, c caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFromContext(ctx context.Context) caller {
	if ctx == nil {
		return caller{}
	}
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// requestContext carries the trace id, request id and caller into a handler
func requestContext(ctx context.Context, req *RPCRequest, traceID string, c caller) context.Context {
	ctx = tracing.WithTraceID(ctx, traceID)
	ctx = tracing.WithRequestID(ctx, req.ID)
	return withCaller(ctx, c)
}
