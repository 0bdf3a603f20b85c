// Package agent runs agent turns: context replay, shield gates, the
// inference and builtin tool loop, and the event stream that reports them.
//
// Invariants:
// - Events of a turn follow turn_start (step_start step_progress* step_complete)* turn_complete.
// - Turns of one session run one at a time through session.Store.Exclusive.
// - A turn is appended to its session before turn_complete is emitted; an
//   abandoned or failed turn is never appended.
// - At most one shield redirect is produced per turn.
// - No turn makes more than max_infer_iters inference calls.
//
// Usage:
//
//	reg, _ := agent.NewRegistry(agent.Config{Store: store, Provider: provider})
//	agentID, _ := reg.CreateAgent(ctx, agent.DefaultConfig())
//	sessionID, _ := reg.CreateSession(ctx, agentID, "demo")
//	stream, _ := reg.CreateAndExecuteTurn(ctx, agent.TurnRequest{
//		AgentID:   agentID,
//		SessionID: sessionID,
//		Messages:  message.List{message.UserMessage{Content: "hello"}},
//		Stream:    true,
//	})
//	for ev := range stream.Events() {
//		_ = ev
//	}
//	_ = stream.Err()
package agent
