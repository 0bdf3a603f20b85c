// Package toolexecutor registers an agent's tools and dispatches builtin tool calls.
//
// Invariants:
// - Tool names are unique across builtin and custom tools.
// - Builtin arguments are schema-validated before the handler runs.
// - Unknown tools and handler failures are reported as tool responses, never as errors.
// - A handler that outlives its timeout fails the call with ErrTimeout.
// - Custom tools are only advertised; the caller runs them.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{Logger: logger})
//	_ = exec.RegisterBuiltin(toolexecutor.DefaultDefinition(toolexecutor.BraveSearch),
//		func(ctx context.Context, args map[string]interface{}) (string, error) { return search(args["query"]) })
//	res, err := exec.Dispatch(ctx, call)
package toolexecutor
