package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/agent"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/session"
	"github.com/harun/agentic/pkg/turn"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("agents.create", s.handleAgentsCreate)
	_ = s.router.RegisterMethod("agents.list", s.handleAgentsList)
	_ = s.router.RegisterMethod("sessions.create", s.handleSessionsCreate)
	_ = s.router.RegisterMethod("sessions.get", s.handleSessionsGet)
	_ = s.router.RegisterMethod("sessions.list", s.handleSessionsList)
	_ = s.router.RegisterMethod("sessions.delete", s.handleSessionsDelete)
	_ = s.router.RegisterMethod("turns.create", s.handleTurnsCreate)
	_ = s.router.RegisterMethod("turns.abort", s.handleTurnsAbort)
	_ = s.router.RegisterMethod("gateway.status", s.handleGatewayStatus)
}

type agentsCreateParams struct {
	AgentConfig *agent.AgentConfig `json:"agent_config"`
}

type sessionParams struct {
	AgentID     string `json:"agent_id"`
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
}

type turnsCreateParams struct {
	AgentID   string       `json:"agent_id"`
	SessionID string       `json:"session_id"`
	Messages  message.List `json:"messages"`
	Stream    bool         `json:"stream"`
}

// handleAgentsCreate handles agents.create
func (s *Server) handleAgentsCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params agentsCreateParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.AgentConfig == nil {
		return nil, invalidParams("agent_config is required")
	}

	agentID, err := s.agents.CreateAgent(ctx, *params.AgentConfig)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return map[string]string{"agent_id": agentID}, nil
}

// handleAgentsList handles agents.list
func (s *Server) handleAgentsList(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"agents": s.agents.ListAgents()}, nil
}

// handleSessionsCreate handles sessions.create
func (s *Server) handleSessionsCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params sessionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.AgentID == "" {
		return nil, invalidParams("agent_id is required")
	}

	sessionID, err := s.agents.CreateSession(ctx, params.AgentID, params.SessionName)
	if err != nil {
		return nil, toRPCError(err)
	}
	return map[string]string{"session_id": sessionID}, nil
}

// handleSessionsGet handles sessions.get
func (s *Server) handleSessionsGet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params, err := sessionRef(raw)
	if err != nil {
		return nil, err
	}

	sess, err := s.agents.GetSession(ctx, params.AgentID, params.SessionID)
	if err != nil {
		return nil, toRPCError(err)
	}
	return sess, nil
}

// handleSessionsList handles sessions.list
func (s *Server) handleSessionsList(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params sessionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.AgentID == "" {
		return nil, invalidParams("agent_id is required")
	}

	sessions, err := s.agents.ListSessions(ctx, params.AgentID)
	if err != nil {
		return nil, toRPCError(err)
	}

	summaries := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, map[string]interface{}{
			"session_id":   sess.SessionID,
			"session_name": sess.SessionName,
			"started_at":   sess.StartedAt,
			"turns":        len(sess.Turns),
		})
	}
	return map[string]interface{}{"sessions": summaries}, nil
}

// handleSessionsDelete handles sessions.delete
func (s *Server) handleSessionsDelete(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params, err := sessionRef(raw)
	if err != nil {
		return nil, err
	}

	if err := s.agents.DeleteSession(ctx, params.AgentID, params.SessionID); err != nil {
		return nil, toRPCError(err)
	}
	return map[string]bool{"success": true}, nil
}

// handleTurnsCreate handles turns.create. Websocket callers receive every
// turn event as a "turn.event" message before the response; HTTP callers
// only get the finished turn.
func (s *Server) handleTurnsCreate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params turnsCreateParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.AgentID == "" || params.SessionID == "" {
		return nil, invalidParams("agent_id and session_id are required")
	}
	if len(params.Messages) == 0 {
		return nil, invalidParams("messages are required")
	}

	stream, err := s.agents.CreateAndExecuteTurn(ctx, agent.TurnRequest{
		AgentID:   params.AgentID,
		SessionID: params.SessionID,
		Messages:  params.Messages,
		Stream:    params.Stream,
	})
	if err != nil {
		return nil, toRPCError(err)
	}

	from := callerFromContext(ctx)
	clientID := from.ClientID
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("transport", from.Transport).Logger()

	var (
		finished turn.Turn
		complete bool
	)
	for ev := range stream.Events() {
		if tc, ok := ev.(agent.TurnComplete); ok {
			finished = tc.Turn
			complete = true
		}
		if clientID == "" {
			continue
		}
		if err := s.pushTurnEvent(ctx, clientID, stream.TurnID(), params, ev); err != nil {
			// The client is gone; abandon the turn.
			logger.Warn().Err(err).Str("turn_id", stream.TurnID()).Msg("Failed to push turn event")
			_ = stream.Close()
			break
		}
	}

	if err := stream.Err(); err != nil {
		return nil, toRPCError(err)
	}
	if !complete {
		return nil, &RPCError{Code: InternalError, Message: "turn ended without completing"}
	}
	return map[string]interface{}{"turn": finished}, nil
}

func (s *Server) pushTurnEvent(ctx context.Context, clientID, turnID string, params turnsCreateParams, ev agent.Event) error {
	payload, err := agent.MarshalEvent(ev)
	if err != nil {
		return err
	}

	stream := StreamTypeStep
	switch ev.EventType() {
	case agent.EventTurnStart, agent.EventTurnComplete:
		stream = StreamTypeTurn
	}

	return s.broadcaster.SendTo(clientID, EventMessage{
		Event:     "turn.event",
		Stream:    stream,
		Phase:     string(ev.EventType()),
		Data:      json.RawMessage(payload),
		TraceID:   tracing.GetTraceID(ctx),
		RequestID: tracing.GetRequestID(ctx),
		TurnID:    turnID,
		SessionID: params.SessionID,
		AgentID:   params.AgentID,
	})
}

// handleTurnsAbort handles turns.abort
func (s *Server) handleTurnsAbort(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params struct {
		TurnID string `json:"turn_id"`
	}
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.TurnID == "" {
		return nil, invalidParams("turn_id is required")
	}
	return map[string]bool{"aborted": s.agents.AbortTurn(params.TurnID)}, nil
}

// handleGatewayStatus handles gateway.status
func (s *Server) handleGatewayStatus(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"clients":      s.clients.Infos(),
		"active_turns": s.agents.ActiveTurns(),
		"methods":      s.router.GetMethods(),
	}, nil
}

func sessionRef(raw json.RawMessage) (sessionParams, error) {
	var params sessionParams
	if err := decodeParams(raw, &params); err != nil {
		return params, err
	}
	if params.AgentID == "" || params.SessionID == "" {
		return params, invalidParams("agent_id and session_id are required")
	}
	return params, nil
}

// decodeParams strictly decodes params into v. Missing params decode as {}.
func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidParams(fmt.Sprintf("invalid params: %v", err))
	}
	return nil
}

func invalidParams(msg string) *RPCError {
	return &RPCError{Code: InvalidParams, Message: msg}
}

// toRPCError maps engine errors onto RPC error codes
func toRPCError(err error) *RPCError {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound), errors.Is(err, session.ErrSessionNotFound):
		return &RPCError{Code: ResourceNotFound, Message: err.Error()}
	case errors.Is(err, agent.ErrUpstreamUnavailable):
		return &RPCError{Code: UpstreamUnavailable, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &RPCError{Code: InternalError, Message: "turn canceled"}
	default:
		return &RPCError{Code: InternalError, Message: err.Error()}
	}
}
