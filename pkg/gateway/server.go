package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/agent"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const maxRPCBody = 4 << 20

// Server exposes an agent.Registry over JSON-RPC
type Server struct {
	addr           string
	sharedSecret   string
	tickInterval   time.Duration
	rateLimit      int
	maxConcurrent  int
	server         *http.Server
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	router         *RPCRouter
	authHandler    *AuthHandler
	broadcaster    *EventBroadcaster
	agents         *agent.Registry
	logger         zerolog.Logger
	baseCtx        context.Context
	baseCancel     context.CancelFunc
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	// RateLimit is requests per minute per client
	RateLimit     int
	MaxConcurrent int
	// TickInterval paces keepalive events; zero disables them
	TickInterval time.Duration
	Agents       *agent.Registry
	Logger       zerolog.Logger
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	observability.EnsureRegistered()

	clients := NewClientRegistry()
	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Server{
		addr:          net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		sharedSecret:  cfg.SharedSecret,
		tickInterval:  cfg.TickInterval,
		rateLimit:     cfg.RateLimit,
		maxConcurrent: cfg.MaxConcurrent,
		clients:       clients,
		router:        NewRPCRouter(),
		authHandler:   NewAuthHandler(cfg.SharedSecret),
		broadcaster:   NewEventBroadcaster(clients, cfg.Logger),
		agents:        cfg.Agents,
		logger:        cfg.Logger,
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // clients authenticate with the shared secret
			},
		},
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the gateway's HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()
	return nil
}

// Stop drains in-flight requests and shuts the server down. Turns still
// running after ctx expires are canceled.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	s.stopTickEmitter()

	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, canceling running turns")
		s.baseCancel()
		<-done
	}
	s.baseCancel()

	for _, client := range s.clients.All() {
		client.Conn.Close()
	}

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) startTickEmitter() {
	if s.tickInterval <= 0 {
		return
	}

	tickCtx, cancel := context.WithCancel(s.baseCtx)
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.dropUnauthenticated()
				s.broadcaster.BroadcastTyped(EventMessage{
					Event:  "tick",
					Stream: StreamTypeLifecycle,
					Phase:  "tick",
					Data: map[string]interface{}{
						"status":       "alive",
						"active_turns": len(s.agents.ActiveTurns()),
					},
				})
			}
		}
	}()
}

// dropUnauthenticated disconnects clients that let their challenge expire
func (s *Server) dropUnauthenticated() {
	for _, client := range s.clients.Unauthenticated() {
		s.logger.Warn().Str("clientId", client.ID).Msg("Auth challenge expired, disconnecting")
		client.Conn.Close()
	}
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.rateLimit, s.maxConcurrent),
		State:        StateConnecting,
		ctx:          ctx,
		cancel:       cancel,
	}

	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
		cancel()
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

// sendAuthChallenge issues a challenge and writes it to the client
func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.authHandler.Issue(client)
	if err != nil {
		return err
	}
	return client.WriteJSON(challenge)
}

// handleClient reads messages until the connection closes. Closing cancels
// the client's context, which aborts its running turns.
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.cancel()
		client.Conn.Close()
		client.State = StateDisconnected
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage handles a single message from a client
func (s *Server) handleMessage(client *Client, message []byte) {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == authMethodResponse {
		s.handleAuthMessage(client, authResp)
		return
	}

	if !client.Authenticated {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return
	}

	if s.shuttingDown() {
		s.sendError(client, req.ID, InternalError, "Server is shutting down")
		return
	}

	if rpcErr := client.RateLimiter.Acquire(); rpcErr != nil {
		s.sendError(client, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	s.inFlightReqs.Add(1)

	// Handle request asynchronously
	go func() {
		defer client.RateLimiter.Release()
		defer s.inFlightReqs.Done()

		ctx := requestContext(client.ctx, req, tracing.NewTraceID(), caller{Transport: transportWebSocket, ClientID: client.ID})
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("clientId", client.ID).
			Str("method", req.Method).
			Msg("Gateway received websocket RPC request")

		response := s.router.RouteRequest(ctx, req)
		if err := client.WriteJSON(response); err != nil {
			logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Msg("Failed to send response")
		}
	}()
}

// handleRPC handles single-shot HTTP JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !s.authHandler.VerifyRequest(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	req, err := s.router.ParseRequest(body)
	if err != nil {
		rpcErr := &RPCError{Code: ParseError, Message: err.Error()}
		errors.As(err, &rpcErr)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", Error: rpcErr})
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}

	// Ends when the client disconnects or the server stops
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	ctx = requestContext(ctx, req, traceID, caller{Transport: transportHTTP})
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(ctx, req)

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

// handleAuthMessage handles authentication messages
func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) {
	result := s.authHandler.HandleAuthResponse(client, authResp.Signature)

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if !result.Success {
		s.logger.Warn().
			Str("clientId", client.ID).
			Str("reason", result.Message).
			Msg("Authentication failed")

		switch {
		case client.LockedOut():
			client.Conn.Close()
		case client.Challenge == "":
			if err := s.sendAuthChallenge(client); err != nil {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to reissue auth challenge")
			}
		}
		return
	}
	s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	response := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}

	if err := client.WriteJSON(response); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast broadcasts a lifecycle event to all authenticated clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// Methods returns the registered RPC method names
func (s *Server) Methods() []string {
	return s.router.GetMethods()
}

// ConnectedClients returns information about all connected clients
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.Infos()
}
