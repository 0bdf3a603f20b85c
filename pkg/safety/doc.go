// Package safety runs shields (pluggable safety checks) over message lists.
//
// Invariants:
// - An empty shield list is a no-op: no checker call, no verdict.
// - The caller's messages are never mutated; the first message is re-labelled
//   as user input on a copy when a checker needs it.
// - RAISE (the default) returns *SafetyError; WARN logs and continues.
// - Checker failures surface as ErrCheckerUnavailable.
//
// Usage:
//
//	runner, _ := safety.NewRunner(safety.Config{
//		Checker: safety.Mux{"keyword": keywordChecker},
//		Logger:  logger,
//	})
//	_, err := runner.RunShields(ctx, msgs, []safety.ShieldDefinition{{ShieldType: "keyword"}})
//	var violation *safety.SafetyError
//	if errors.As(err, &violation) {
//		_ = violation.Verdict.ViolationReturnMessage
//	}
package safety
