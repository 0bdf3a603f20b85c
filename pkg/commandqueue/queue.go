package commandqueue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrClosed is returned when enqueueing on a closed queue
var ErrClosed = errors.New("command queue closed")

// Task is one unit of work run inside a lane
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions tunes a single Enqueue call
type TaskOptions struct {
	// WarnAfter logs a warning if the task is still queued after this long
	WarnAfter time.Duration
}

// Config holds CommandQueue dependencies
type Config struct {
	Logger zerolog.Logger
	// Concurrency is the number of tasks a lane runs at once. Defaults to 1.
	Concurrency int
}

// CommandQueue runs tasks in named lanes, first in first out per lane
type CommandQueue struct {
	logger      zerolog.Logger
	concurrency int
	seq         atomic.Uint64

	mu    sync.Mutex
	lanes map[string]*lane

	running sync.WaitGroup
	closed  context.Context
	close   context.CancelFunc
}

type lane struct {
	name    string
	waiting []*job
	active  int
}

type job struct {
	id       string
	ctx      context.Context
	task     Task
	queuedAt time.Time
	done     chan outcome
}

type outcome struct {
	value interface{}
	err   error
}

// New creates a CommandQueue
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	closed, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		logger:      cfg.Logger,
		concurrency: concurrency,
		lanes:       make(map[string]*lane),
		closed:      closed,
		close:       cancel,
	}
}

// Enqueue appends task to the lane and waits for its outcome. If ctx ends
// while the task is still waiting, the task is dropped and ctx.Err() is
// returned. A started task observes cancellation through its own context.
func (q *CommandQueue) Enqueue(ctx context.Context, laneName string, task Task, opts *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.closed.Err() != nil {
		return nil, ErrClosed
	}

	ctx, span := tracing.StartSpan(ctx, "agentic.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", laneName),
	)
	defer span.End()

	j := &job{
		id:       laneName + "#" + strconv.FormatUint(q.seq.Add(1), 10),
		ctx:      ctx,
		task:     task,
		queuedAt: time.Now(),
		done:     make(chan outcome, 1),
	}

	q.mu.Lock()
	l := q.laneLocked(laneName)
	l.waiting = append(l.waiting, j)
	depth := len(l.waiting)
	q.startLocked(l)
	q.mu.Unlock()

	observability.RecordQueueEnqueue(metricLane(laneName), depth)
	logger := tracing.LoggerFromContext(ctx, q.logger)
	logger.Debug().
		Str("lane", laneName).
		Str("task_id", j.id).
		Int("queue_size", depth).
		Msg("Task enqueued")

	if opts != nil && opts.WarnAfter > 0 {
		stop := q.warnIfWaiting(l, j, opts.WarnAfter)
		defer stop()
	}

	select {
	case out := <-j.done:
		if out.err != nil {
			tracing.FailSpan(span, out.err, "task failed")
		}
		return out.value, out.err
	case <-ctx.Done():
		if q.withdraw(l, j) {
			logger.Debug().Str("task_id", j.id).Msg("Queued task cancelled")
			return nil, ctx.Err()
		}
		out := <-j.done
		return out.value, out.err
	}
}

func (q *CommandQueue) laneLocked(name string) *lane {
	l, ok := q.lanes[name]
	if !ok {
		l = &lane{name: name}
		q.lanes[name] = l
	}
	return l
}

// startLocked launches waiting jobs while the lane has free slots
func (q *CommandQueue) startLocked(l *lane) {
	for l.active < q.concurrency && len(l.waiting) > 0 {
		j := l.waiting[0]
		l.waiting = l.waiting[1:]
		l.active++
		q.running.Add(1)
		go q.run(l, j)
	}
}

func (q *CommandQueue) run(l *lane, j *job) {
	defer q.running.Done()

	ctx, span := tracing.StartSpan(j.ctx, "agentic.commandqueue", "commandqueue.run",
		attribute.String("lane", l.name),
		attribute.String("task_id", j.id),
	)
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.closed, cancel)

	started := time.Now()
	value, err := j.task(ctx)
	elapsed := time.Since(started)
	stop()
	cancel()

	q.mu.Lock()
	l.active--
	depth := len(l.waiting)
	q.startLocked(l)
	q.mu.Unlock()

	j.done <- outcome{value: value, err: err}

	logger := tracing.LoggerFromContext(ctx, q.logger)
	ev := logger.Debug().
		Str("lane", l.name).
		Str("task_id", j.id).
		Dur("duration", elapsed)
	if err != nil {
		tracing.FailSpan(span, err, "task failed")
		ev.Err(err).Msg("Task failed")
	} else {
		ev.Msg("Task completed")
	}
	observability.RecordQueueCompletion(metricLane(l.name), elapsed, err == nil, depth)
}

// withdraw removes a job that has not started. It reports false when the
// job is already running.
func (q *CommandQueue) withdraw(l *lane, j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range l.waiting {
		if w == j {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			observability.SetQueueSize(metricLane(l.name), len(l.waiting))
			return true
		}
	}
	return false
}

// warnIfWaiting logs once if j is still queued after d
func (q *CommandQueue) warnIfWaiting(l *lane, j *job, d time.Duration) func() bool {
	t := time.AfterFunc(d, func() {
		q.mu.Lock()
		pos := -1
		for i, w := range l.waiting {
			if w == j {
				pos = i
				break
			}
		}
		q.mu.Unlock()
		if pos < 0 {
			return
		}
		logger := tracing.LoggerFromContext(j.ctx, q.logger)
		logger.Warn().
			Str("lane", l.name).
			Str("task_id", j.id).
			Dur("wait", time.Since(j.queuedAt)).
			Int("queue_pos", pos).
			Msg("Task waiting longer than expected")
	})
	return t.Stop
}

// Queued returns the number of tasks waiting in a lane
func (q *CommandQueue) Queued(laneName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[laneName]; ok {
		return len(l.waiting)
	}
	return 0
}

// Running returns the number of tasks executing in a lane
func (q *CommandQueue) Running(laneName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[laneName]; ok {
		return l.active
	}
	return 0
}

// RemoveLane forgets an idle lane. It reports false if the lane is busy.
func (q *CommandQueue) RemoveLane(laneName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[laneName]
	if !ok {
		return true
	}
	if l.active > 0 || len(l.waiting) > 0 {
		return false
	}
	delete(q.lanes, laneName)
	return true
}

// Close cancels running tasks and waits for them to return. Tasks still
// waiting run with an already canceled context.
func (q *CommandQueue) Close() error {
	q.close()
	q.running.Wait()
	return nil
}

// metricLane keeps metric cardinality bounded: "session:abc" reports as
// "session".
func metricLane(name string) string {
	if kind, _, ok := strings.Cut(name, ":"); ok {
		return kind
	}
	return name
}
