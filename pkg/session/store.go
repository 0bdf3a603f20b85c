package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/commandqueue"
	"github.com/harun/agentic/pkg/turn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")
	// ErrTurnExists is returned when a turn id is appended twice
	ErrTurnExists = errors.New("turn already recorded")
)

// Config holds Store dependencies
type Config struct {
	Logger zerolog.Logger
	// Queue serializes work per session. A private queue is created when nil.
	Queue *commandqueue.CommandQueue
	// WarnAfter logs turns that wait this long for their session
	WarnAfter time.Duration
	Now       func() time.Time
}

// Store keeps sessions in memory. Turns are append-only and each session
// has a single writer at a time.
type Store struct {
	sessions  map[string]*turn.Session
	queue     *commandqueue.CommandQueue
	ownsQueue bool
	warnAfter time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// New creates an empty Store
func New(cfg Config) *Store {
	observability.EnsureRegistered()

	queue := cfg.Queue
	owns := false
	if queue == nil {
		queue = commandqueue.New(commandqueue.Config{Logger: cfg.Logger})
		owns = true
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		sessions:  make(map[string]*turn.Session),
		queue:     queue,
		ownsQueue: owns,
		warnAfter: cfg.WarnAfter,
		now:       now,
		logger:    cfg.Logger,
	}
	observability.SetActiveSessions(0)
	return s
}

// ValidateSessionID rejects ids that are empty or could escape a lane or
// path namespace
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func laneFor(sessionID string) string {
	return "session:" + sessionID
}

// CreateSession starts an empty session for an agent
func (s *Store) CreateSession(ctx context.Context, agentID, name string) (turn.Session, error) {
	ctx, span := tracing.StartSpan(ctx, "agentic.session", "session.create",
		attribute.String("agent_id", agentID),
	)
	defer span.End()

	if agentID == "" {
		err := fmt.Errorf("agent id is required")
		tracing.FailSpan(span, err, "invalid session")
		return turn.Session{}, err
	}

	sess := &turn.Session{
		SessionID:   uuid.NewString(),
		SessionName: name,
		AgentID:     agentID,
		StartedAt:   s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	observability.SetActiveSessions(count)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("session_id", sess.SessionID).
		Str("session_name", name).
		Msg("Session created")

	return sess.Clone(), nil
}

// GetSession returns a snapshot of the session
func (s *Store) GetSession(ctx context.Context, sessionID string) (turn.Session, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return turn.Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return turn.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.Clone(), nil
}

// History returns the turns recorded so far
func (s *Store) History(ctx context.Context, sessionID string) ([]turn.Turn, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Turns, nil
}

// ListSessions returns sessions ordered by start time. An empty agentID
// lists every session.
func (s *Store) ListSessions(ctx context.Context, agentID string) []turn.Session {
	s.mu.RLock()
	out := make([]turn.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if agentID == "" || sess.AgentID == agentID {
			out = append(out, sess.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// AppendTurn records a copy of a finished turn. Callers that run turns
// should hold the session through Exclusive.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, t turn.Turn) error {
	ctx, span := tracing.StartSpan(ctx, "agentic.session", "session.append_turn",
		attribute.String("session_id", sessionID),
		attribute.String("turn_id", t.TurnID),
		attribute.Int("steps", len(t.Steps)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)

	fail := func(err error) error {
		tracing.FailSpan(span, err, "append turn failed")
		observability.RecordTurnAppend("failure", 0)
		return err
	}

	if err := ValidateSessionID(sessionID); err != nil {
		return fail(err)
	}
	if t.TurnID == "" {
		return fail(fmt.Errorf("turn id is required"))
	}
	if t.SessionID != sessionID {
		return fail(fmt.Errorf("turn %s belongs to session %s, not %s", t.TurnID, t.SessionID, sessionID))
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fail(fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
	}
	for _, existing := range sess.Turns {
		if existing.TurnID == t.TurnID {
			s.mu.Unlock()
			return fail(fmt.Errorf("%w: %s", ErrTurnExists, t.TurnID))
		}
	}
	sess.Turns = append(sess.Turns, t.Clone())
	turns := len(sess.Turns)
	s.mu.Unlock()

	observability.RecordTurnAppend("success", turns)
	logger.Debug().
		Str("turn_id", t.TurnID).
		Str("status", string(t.Status)).
		Int("turns", turns).
		Msg("Turn appended")
	return nil
}

// Exclusive runs fn while no other Exclusive call for the same session is
// running. Calls are served in arrival order.
func (s *Store) Exclusive(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}

	var opts *commandqueue.TaskOptions
	if s.warnAfter > 0 {
		opts = &commandqueue.TaskOptions{WarnAfter: s.warnAfter}
	}
	_, err := s.queue.Enqueue(ctx, laneFor(sessionID), func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	}, opts)
	return err
}

// DeleteSession removes a session once any running turn has finished
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, span := tracing.StartSpan(ctx, "agentic.session", "session.delete",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	err := s.Exclusive(ctx, sessionID, func(ctx context.Context) error {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		count := len(s.sessions)
		s.mu.Unlock()
		observability.SetActiveSessions(count)
		return nil
	})
	if err != nil {
		tracing.FailSpan(span, err, "delete session failed")
		return err
	}
	s.queue.RemoveLane(laneFor(sessionID))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// Close releases the store's queue if it created one
func (s *Store) Close() error {
	if s.ownsQueue {
		return s.queue.Close()
	}
	return nil
}
