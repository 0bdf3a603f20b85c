package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/harun/agentic/internal/observability"
	"golang.org/x/sync/singleflight"
)

const defaultIdempotencyTTL = 5 * time.Minute

var methodName = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// RPCRouter maps method names to handlers. Requests carrying an
// idempotency key run once per method and key: concurrent duplicates wait
// for the first call, later duplicates replay its response until the TTL
// expires. Responses with transient errors are not kept.
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]RequestHandler

	flight singleflight.Group
	ttl    time.Duration
	now    func() time.Time

	cacheMu sync.Mutex
	cache   map[string]cachedRPCResponse
}

type cachedRPCResponse struct {
	response  RPCResponse
	expiresAt time.Time
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]RequestHandler),
		ttl:     defaultIdempotencyTTL,
		now:     time.Now,
		cache:   make(map[string]cachedRPCResponse),
	}
}

// RegisterMethod registers a handler under a dotted name such as
// "turns.create"
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if !methodName.MatchString(name) {
		return fmt.Errorf("invalid method name %q: want namespace.action", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("method already registered: %s", name)
	}
	r.methods[name] = handler
	return nil
}

// UnregisterMethod removes an RPC method handler
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.methods, name)
}

// ParseRequest parses and validates a JSON-RPC request
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	switch {
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	case req.JSONRPC != "" && req.JSONRPC != "2.0":
		return nil, &RPCError{Code: InvalidRequest, Message: fmt.Sprintf("Invalid request: unsupported jsonrpc version %q", req.JSONRPC)}
	}

	req.JSONRPC = "2.0"
	return &req, nil
}

// RouteRequest routes a request to its handler. Handler errors that are
// *RPCError keep their code; anything else is an InternalError.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return &RPCResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: InvalidRequest, Message: "invalid request"},
		}
	}

	start := r.now()
	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		observability.RecordRPC("unknown", outcomeLabel(MethodNotFound), r.now().Sub(start))
		return &RPCResponse{
			ID:      req.ID,
			JSONRPC: "2.0",
			Error:   &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)},
		}
	}

	if req.IdempotencyKey == "" {
		resp := invoke(ctx, handler, req)
		observability.RecordRPC(req.Method, outcome(resp), r.now().Sub(start))
		return &resp
	}

	key := req.Method + ":" + req.IdempotencyKey
	if cached, ok := r.cached(key); ok {
		cached.ID = req.ID
		observability.RecordRPC(req.Method, "replayed", r.now().Sub(start))
		return &cached
	}

	v, _, shared := r.flight.Do(key, func() (interface{}, error) {
		resp := invoke(ctx, handler, req)
		if resp.Error == nil || !transient(resp.Error.Code) {
			r.store(key, resp)
		}
		return resp, nil
	})

	resp := cloneRPCResponse(v.(RPCResponse))
	resp.ID = req.ID
	label := outcome(resp)
	if shared {
		label = "replayed"
	}
	observability.RecordRPC(req.Method, label, r.now().Sub(start))
	return &resp
}

func invoke(ctx context.Context, handler RequestHandler, req *RPCRequest) RPCResponse {
	result, err := handler(ctx, req.Params)
	resp := RPCResponse{ID: req.ID, JSONRPC: "2.0"}
	if err == nil {
		resp.Result = result
		return resp
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		errCopy := *rpcErr
		resp.Error = &errCopy
	} else {
		resp.Error = &RPCError{Code: InternalError, Message: err.Error()}
	}
	return resp
}

// transient codes are worth retrying under the same key
func transient(code int) bool {
	switch code {
	case UpstreamUnavailable, RateLimitExceeded, TooManyConcurrent:
		return true
	}
	return false
}

func outcome(resp RPCResponse) string {
	if resp.Error == nil {
		return "ok"
	}
	return outcomeLabel(resp.Error.Code)
}

func outcomeLabel(code int) string {
	switch code {
	case ParseError:
		return "parse_error"
	case InvalidRequest:
		return "invalid_request"
	case MethodNotFound:
		return "method_not_found"
	case InvalidParams:
		return "invalid_params"
	case AuthenticationRequired:
		return "unauthenticated"
	case ResourceNotFound:
		return "not_found"
	case RateLimitExceeded, TooManyConcurrent:
		return "rate_limited"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}

// HasMethod checks if a method is registered
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// GetMethods returns all registered method names, sorted
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

func (r *RPCRouter) cached(key string) (RPCResponse, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	entry, ok := r.cache[key]
	if !ok {
		return RPCResponse{}, false
	}
	if r.now().After(entry.expiresAt) {
		delete(r.cache, key)
		return RPCResponse{}, false
	}
	return cloneRPCResponse(entry.response), true
}

func (r *RPCRouter) store(key string, resp RPCResponse) {
	now := r.now()

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	for k, entry := range r.cache {
		if now.After(entry.expiresAt) {
			delete(r.cache, k)
		}
	}
	r.cache[key] = cachedRPCResponse{response: cloneRPCResponse(resp), expiresAt: now.Add(r.ttl)}
}

func cloneRPCResponse(src RPCResponse) RPCResponse {
	cloned := src
	if src.Error != nil {
		errCopy := *src.Error
		cloned.Error = &errCopy
	}
	return cloned
}
