// Package session keeps agent sessions and their turns in memory.
//
// Invariants:
// - Session ids are validated and namespace-safe.
// - Turns are append-only; a turn id is recorded at most once.
// - Exclusive serializes work on one session in FIFO order while different
//   sessions run concurrently.
// - Readers get snapshots and never observe a partially appended turn.
//
// Usage:
//
//	store := session.New(session.Config{Logger: logger})
//	sess, _ := store.CreateSession(ctx, agentID, "support")
//	_ = store.Exclusive(ctx, sess.SessionID, func(ctx context.Context) error {
//		return store.AppendTurn(ctx, sess.SessionID, t)
//	})
package session
