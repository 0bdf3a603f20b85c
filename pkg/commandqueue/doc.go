// Package commandqueue serializes work per lane. The session store runs
// every turn of a session in the lane "session:<id>", so turns on one
// session never interleave while different sessions proceed in parallel.
//
// Invariants:
// - Tasks in a lane start in the order they were enqueued.
// - A lane runs at most its concurrency (default 1) tasks at once.
// - Lanes are independent of each other.
// - A task whose context ends while it is still queued is removed and never runs.
// - A task still queued after TaskOptions.WarnAfter is logged once.
//
// Usage:
//
//	q := commandqueue.New(commandqueue.Config{Logger: logger})
//	defer q.Close()
//	out, err := q.Enqueue(ctx, "session:"+sessionID, func(ctx context.Context) (interface{}, error) {
//		return runTurn(ctx)
//	}, &commandqueue.TaskOptions{WarnAfter: time.Minute})
package commandqueue
