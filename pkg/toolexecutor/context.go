package toolexecutor

import "context"

// CallInfo describes the tool call a handler is serving
type CallInfo struct {
	CallID    string
	ToolName  string
	AgentID   string
	SessionID string
	TurnID    string
}

type callInfoKey struct{}

// ContextWithCallInfo attaches call information for tool handlers.
func ContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext extracts the call information set by the executor.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	if ctx == nil {
		return CallInfo{}, false
	}
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
