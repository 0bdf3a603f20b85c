package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/inference"
	"github.com/harun/agentic/pkg/safety"
	"github.com/harun/agentic/pkg/session"
	"github.com/harun/agentic/pkg/toolexecutor"
	"github.com/harun/agentic/pkg/turn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultInferenceTimeout = 120 * time.Second
	DefaultToolTimeout      = 30 * time.Second
)

// Config holds Registry dependencies
type Config struct {
	Store    *session.Store
	Provider inference.Provider
	// Checker backs every shield. It may be nil when no agent uses shields.
	Checker safety.Checker
	// Tools maps builtin tools to their handlers
	Tools            map[toolexecutor.BuiltinTool]toolexecutor.Handler
	Logger           zerolog.Logger
	Audit            *observability.AuditLogger
	EventBuffer      int
	InferenceTimeout time.Duration
	ToolTimeout      time.Duration
	Now              func() time.Time
}

// Registry owns the agents of a process and runs their turns
type Registry struct {
	store    *session.Store
	provider inference.Provider
	shields  *safety.Runner
	handlers map[toolexecutor.BuiltinTool]toolexecutor.Handler

	eventBuffer      int
	inferenceTimeout time.Duration
	toolTimeout      time.Duration
	now              func() time.Time
	logger           zerolog.Logger

	agents map[string]*Agent
	order  []string
	mu     sync.RWMutex

	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex
	wg         sync.WaitGroup
}

// NewRegistry creates an empty Registry
func NewRegistry(cfg Config) (*Registry, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("inference provider is required")
	}

	var shields *safety.Runner
	if cfg.Checker != nil {
		runner, err := safety.NewRunner(safety.Config{
			Checker: cfg.Checker,
			Logger:  cfg.Logger,
			Audit:   cfg.Audit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create shield runner: %w", err)
		}
		shields = runner
	}

	inferenceTimeout := cfg.InferenceTimeout
	if inferenceTimeout <= 0 {
		inferenceTimeout = DefaultInferenceTimeout
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	handlers := make(map[toolexecutor.BuiltinTool]toolexecutor.Handler, len(cfg.Tools))
	for k, v := range cfg.Tools {
		handlers[k] = v
	}

	return &Registry{
		store:            cfg.Store,
		provider:         cfg.Provider,
		shields:          shields,
		handlers:         handlers,
		eventBuffer:      cfg.EventBuffer,
		inferenceTimeout: inferenceTimeout,
		toolTimeout:      toolTimeout,
		now:              now,
		logger:           cfg.Logger,
		agents:           make(map[string]*Agent),
		activeRuns:       make(map[string]context.CancelFunc),
	}, nil
}

// CreateAgent registers an agent and returns its id
func (r *Registry) CreateAgent(ctx context.Context, cfg AgentConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid agent config: %w", err)
	}
	if cfg.needsShields() && r.shields == nil {
		return "", fmt.Errorf("agent %s uses shields but no safety checker is configured", cfg.Name)
	}

	tools := toolexecutor.New(toolexecutor.Config{
		Logger:  r.logger,
		Shields: r.shields,
		Timeout: r.toolTimeout,
	})
	for _, def := range cfg.Tools {
		if !toolexecutor.IsBuiltin(def.Name) {
			if err := tools.RegisterCustom(def); err != nil {
				return "", err
			}
			continue
		}
		handler, ok := r.handlers[toolexecutor.BuiltinTool(def.Name)]
		if !ok {
			return "", fmt.Errorf("no handler for builtin tool %s", def.Name)
		}
		if err := tools.RegisterBuiltin(def, handler); err != nil {
			return "", err
		}
	}

	a := &Agent{
		id:               uuid.NewString(),
		cfg:              cfg,
		provider:         r.provider,
		tools:            tools,
		shields:          r.shields,
		inferenceTimeout: r.inferenceTimeout,
		now:              r.now,
		logger:           r.logger,
	}

	r.mu.Lock()
	r.agents[a.id] = a
	r.order = append(r.order, a.id)
	r.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Info().
		Str("agent_id", a.id).
		Str("name", cfg.Name).
		Int("tools", tools.ToolCount()).
		Msg("Agent created")
	return a.id, nil
}

// GetAgent returns a registered agent
func (r *Registry) GetAgent(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return a, nil
}

// AgentByName returns the most recently created agent with the given name
func (r *Registry) AgentByName(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		if a := r.agents[r.order[i]]; a.cfg.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
}

// ListAgents returns agents in creation order
func (r *Registry) ListAgents() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentInfo, 0, len(r.order))
	for _, id := range r.order {
		a := r.agents[id]
		out = append(out, AgentInfo{
			AgentID: id,
			Name:    a.cfg.Name,
			Model:   a.cfg.Model,
			Tools:   a.tools.ToolCount(),
		})
	}
	return out
}

// CreateSession starts a session with an agent and returns its id
func (r *Registry) CreateSession(ctx context.Context, agentID, name string) (string, error) {
	if _, err := r.GetAgent(agentID); err != nil {
		return "", err
	}
	sess, err := r.store.CreateSession(ctx, agentID, name)
	if err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

// GetSession returns a snapshot of a session of the agent
func (r *Registry) GetSession(ctx context.Context, agentID, sessionID string) (turn.Session, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return turn.Session{}, err
	}
	if sess.AgentID != agentID {
		return turn.Session{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// ListSessions returns the agent's sessions
func (r *Registry) ListSessions(ctx context.Context, agentID string) ([]turn.Session, error) {
	if _, err := r.GetAgent(agentID); err != nil {
		return nil, err
	}
	return r.store.ListSessions(ctx, agentID), nil
}

// DeleteSession removes a session after its running turn, if any, finishes
func (r *Registry) DeleteSession(ctx context.Context, agentID, sessionID string) error {
	if _, err := r.GetSession(ctx, agentID, sessionID); err != nil {
		return err
	}
	return r.store.DeleteSession(ctx, sessionID)
}

// CreateAndExecuteTurn starts a turn and returns its event stream. Lookup
// failures are returned directly; failures during the turn end the stream
// and are reported by TurnStream.Err.
func (r *Registry) CreateAndExecuteTurn(ctx context.Context, req TurnRequest) (*TurnStream, error) {
	a, err := r.GetAgent(req.AgentID)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetSession(ctx, req.AgentID, req.SessionID); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("turn requires at least one message")
	}

	turnID := uuid.NewString()
	tctx, cancel := context.WithCancel(ctx)
	stream := newTurnStream(turnID, r.eventBuffer, cancel)
	em := &emitter{ctx: tctx, ch: stream.events}

	r.track(turnID, cancel)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		err := r.store.Exclusive(tctx, req.SessionID, func(qctx context.Context) error {
			history, err := r.store.History(qctx, req.SessionID)
			if err != nil {
				return err
			}
			t, err := a.executeTurn(qctx, em, turnID, history, req)
			if err != nil {
				return err
			}
			if err := qctx.Err(); err != nil {
				return err
			}
			return r.recordTurn(qctx, em, req.SessionID, t)
		})
		if err != nil && tctx.Err() != nil && !errors.Is(err, context.Canceled) {
			err = tctx.Err()
		}
		r.untrack(turnID)
		stream.finish(err)
	}()

	return stream, nil
}

// recordTurn appends t and announces it. Once the append succeeds the turn
// is part of the session, so a consumer that has already gone away only
// loses the TurnComplete event.
func (r *Registry) recordTurn(ctx context.Context, em *emitter, sessionID string, t turn.Turn) error {
	if err := r.store.AppendTurn(ctx, sessionID, t); err != nil {
		return err
	}
	if err := em.emit(TurnComplete{Turn: t}); err != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Debug().
			Err(err).
			Str("turn_id", t.TurnID).
			Msg("Turn recorded after the stream was closed")
	}
	return nil
}

// AbortTurn cancels a running turn. Nothing is recorded unless the turn had
// already been appended to its session.
func (r *Registry) AbortTurn(turnID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[turnID]
	if !exists {
		r.logger.Debug().Str("turn_id", turnID).Msg("No active turn to abort")
		return false
	}
	cancel()
	delete(r.activeRuns, turnID)
	r.logger.Info().Str("turn_id", turnID).Msg("Turn aborted")
	return true
}

// IsRunning reports whether a turn is still executing
func (r *Registry) IsRunning(turnID string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	_, exists := r.activeRuns[turnID]
	return exists
}

// ActiveTurns returns the ids of running turns in sorted order
func (r *Registry) ActiveTurns() []string {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	out := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close cancels running turns and waits for them to stop
func (r *Registry) Close() error {
	r.runsMu.Lock()
	for id, cancel := range r.activeRuns {
		cancel()
		delete(r.activeRuns, id)
	}
	r.runsMu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Registry) track(turnID string, cancel context.CancelFunc) {
	r.runsMu.Lock()
	r.activeRuns[turnID] = cancel
	r.runsMu.Unlock()
}

func (r *Registry) untrack(turnID string) {
	r.runsMu.Lock()
	delete(r.activeRuns, turnID)
	r.runsMu.Unlock()
}

// RunTurn executes a turn and blocks until it finishes. onEvent, when set,
// sees every event in order.
func (r *Registry) RunTurn(ctx context.Context, req TurnRequest, onEvent func(Event)) (turn.Turn, error) {
	ctx, span := tracing.StartSpan(ctx, "agentic.agent", "agent.run_turn",
		attribute.String("agent_id", req.AgentID),
		attribute.String("session_id", req.SessionID),
	)
	defer span.End()

	stream, err := r.CreateAndExecuteTurn(ctx, req)
	if err != nil {
		tracing.FailSpan(span, err, "turn rejected")
		return turn.Turn{}, err
	}

	var done *turn.Turn
	for ev := range stream.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
		if tc, ok := ev.(TurnComplete); ok {
			t := tc.Turn
			done = &t
		}
	}
	if err := stream.Err(); err != nil {
		tracing.FailSpan(span, err, "turn failed")
		return turn.Turn{}, err
	}
	if done == nil {
		err := fmt.Errorf("turn %s ended without turn_complete", stream.TurnID())
		tracing.FailSpan(span, err, "turn incomplete")
		return turn.Turn{}, err
	}
	return *done, nil
}
