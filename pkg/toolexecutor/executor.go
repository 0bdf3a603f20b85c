package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/safety"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultTimeout bounds a single handler run
	DefaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

// ErrTimeout is returned when a handler does not finish within its timeout
var ErrTimeout = errors.New("tool execution timeout")

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type" yaml:"type"`
	Description string      `json:"description" yaml:"description"`
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// ToolDefinition describes a tool the model may call
type ToolDefinition struct {
	Name          string                    `json:"name" yaml:"name"`
	Description   string                    `json:"description" yaml:"description"`
	Parameters    []ToolParameter           `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	InputShields  []safety.ShieldDefinition `json:"input_shields,omitempty" yaml:"input_shields,omitempty"`
	OutputShields []safety.ShieldDefinition `json:"output_shields,omitempty" yaml:"output_shields,omitempty"`
}

// Handler runs a builtin tool and returns its textual output
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Config holds Executor dependencies
type Config struct {
	Logger zerolog.Logger
	// Shields runs per-tool input and output shields. Nil skips them.
	Shields *safety.Runner
	Timeout time.Duration
}

// DispatchResult is the outcome of one tool call
type DispatchResult struct {
	Response    message.ToolResponseMessage
	Attachments []message.Attachment
	// Verdicts holds the per-tool shield verdicts, input shields first.
	Verdicts  []safety.Verdict
	Truncated bool
	Duration  time.Duration
}

type builtinEntry struct {
	def     ToolDefinition
	handler Handler
	schema  *gojsonschema.Schema
}

// Executor is the registry and dispatcher for an agent's tools
type Executor struct {
	builtins     map[string]*builtinEntry
	builtinOrder []string
	custom       map[string]ToolDefinition
	customOrder  []string
	shields      *safety.Runner
	timeout      time.Duration
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// New creates an empty Executor
func New(cfg Config) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		builtins: make(map[string]*builtinEntry),
		custom:   make(map[string]ToolDefinition),
		shields:  cfg.Shields,
		timeout:  timeout,
		logger:   cfg.Logger,
	}
}

// RegisterBuiltin registers one of the builtin tools with its handler.
// Empty description or parameters fall back to the stock definition.
func (e *Executor) RegisterBuiltin(def ToolDefinition, handler Handler) error {
	b, err := ParseBuiltin(def.Name)
	if err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	stock := DefaultDefinition(b)
	if def.Description == "" {
		def.Description = stock.Description
	}
	if len(def.Parameters) == 0 {
		def.Parameters = stock.Parameters
	}
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.custom[def.Name]; exists {
		return fmt.Errorf("tool %s already registered as custom", def.Name)
	}
	if _, exists := e.builtins[def.Name]; !exists {
		e.builtinOrder = append(e.builtinOrder, def.Name)
	}
	e.builtins[def.Name] = &builtinEntry{def: def, handler: handler, schema: schema}

	e.logger.Debug().Str("tool", def.Name).Msg("Builtin tool registered")
	return nil
}

// RegisterCustom registers a client-side tool. Custom tools are advertised
// to the model but never run by the executor.
func (e *Executor) RegisterCustom(def ToolDefinition) error {
	if IsBuiltin(def.Name) {
		return fmt.Errorf("custom tool cannot use builtin name %s", def.Name)
	}
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.custom[def.Name]; !exists {
		e.customOrder = append(e.customOrder, def.Name)
	}
	e.custom[def.Name] = def

	e.logger.Debug().Str("tool", def.Name).Msg("Custom tool registered")
	return nil
}

// IsBuiltin reports whether name is a registered builtin tool
func (e *Executor) IsBuiltin(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.builtins[name]
	return ok
}

// IsCustom reports whether name is a registered custom tool
func (e *Executor) IsCustom(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.custom[name]
	return ok
}

// BuiltinNames returns registered builtin tool names in registration order
func (e *Executor) BuiltinNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.builtinOrder...)
}

// CustomDefinitions returns custom tool definitions in registration order
func (e *Executor) CustomDefinitions() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(e.customOrder))
	for _, name := range e.customOrder {
		out = append(out, e.custom[name])
	}
	return out
}

// Definitions returns every tool the model may call, builtins first
func (e *Executor) Definitions() []ToolDefinition {
	e.mu.RLock()
	out := make([]ToolDefinition, 0, len(e.builtinOrder)+len(e.customOrder))
	for _, name := range e.builtinOrder {
		out = append(out, e.builtins[name].def)
	}
	e.mu.RUnlock()
	return append(out, e.CustomDefinitions()...)
}

// ToolCount returns the number of registered tools
func (e *Executor) ToolCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.builtins) + len(e.custom)
}

// Dispatch runs a builtin tool call. dialog is what per-tool shields see;
// when empty a completion message carrying the call stands in for it.
//
// Unknown tools, invalid arguments and handler failures come back as tool
// responses. Errors are reserved for shield violations, shield outages,
// timeouts and cancellation.
func (e *Executor) Dispatch(ctx context.Context, call message.ToolCall, dialog ...message.Message) (DispatchResult, error) {
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "agentic.toolexecutor", "toolexecutor.dispatch",
		attribute.String("tool.name", call.ToolName),
		attribute.String("tool.call_id", call.CallID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger).With().
		Str("tool", call.ToolName).
		Str("call_id", call.CallID).
		Logger()

	e.mu.RLock()
	entry := e.builtins[call.ToolName]
	e.mu.RUnlock()

	respond := func(content string) message.ToolResponseMessage {
		return message.ToolResponseMessage{CallID: call.CallID, ToolName: call.ToolName, Content: content}
	}

	if entry == nil {
		logger.Warn().Msg("Unknown tool called")
		return DispatchResult{
			Response: respond(fmt.Sprintf("Unknown tool `%s` was called. Try again with something else", call.ToolName)),
			Duration: time.Since(startTime),
		}, nil
	}

	if len(dialog) == 0 {
		dialog = []message.Message{message.CompletionMessage{
			ToolCalls:  []message.ToolCall{call},
			StopReason: message.StopEndOfTurn,
		}}
	}

	var result DispatchResult
	verdicts, err := e.runShields(ctx, dialog, entry.def.InputShields)
	result.Verdicts = append(result.Verdicts, verdicts...)
	if err != nil {
		tracing.FailSpan(span, err, "input shield")
		return result, err
	}

	content, success, err := e.execute(ctx, entry, call)
	if err != nil {
		tracing.FailSpan(span, err, "tool execution")
		e.record(ctx, call, time.Since(startTime), "failure", err.Error())
		return result, err
	}

	content, result.Attachments = extractAttachments(content)
	content, result.Truncated = truncateOutput(content)
	if result.Truncated {
		logger.Warn().Int("limit", maxOutputSize).Msg("Output truncated")
	}
	result.Response = respond(content)

	verdicts, err = e.runShields(ctx, append(append([]message.Message(nil), dialog...), result.Response), entry.def.OutputShields)
	result.Verdicts = append(result.Verdicts, verdicts...)
	result.Duration = time.Since(startTime)
	if err != nil {
		tracing.FailSpan(span, err, "output shield")
		e.record(ctx, call, result.Duration, "blocked", err.Error())
		return result, err
	}

	status := "success"
	if !success {
		status = "failure"
	}
	e.record(ctx, call, result.Duration, status, "")

	logger.Debug().
		Dur("duration", result.Duration).
		Bool("truncated", result.Truncated).
		Int("attachments", len(result.Attachments)).
		Msg("Tool execution completed")

	return result, nil
}

// execute validates arguments and runs the handler under the timeout. The
// returned bool is false when the failure was reported inline.
func (e *Executor) execute(ctx context.Context, entry *builtinEntry, call message.ToolCall) (string, bool, error) {
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := validateParameters(entry.schema, args); err != nil {
		return fmt.Sprintf("Tool error (%s): parameter validation failed: %v", call.ToolName, err), false, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	timeoutCtx = ContextWithCallInfo(timeoutCtx, CallInfo{
		CallID:    call.CallID,
		ToolName:  call.ToolName,
		AgentID:   tracing.GetAgentID(ctx),
		SessionID: tracing.GetSessionID(ctx),
		TurnID:    tracing.GetTurnID(ctx),
	})

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := entry.handler(timeoutCtx, args)
		done <- outcome{out, err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.output, true, nil
		}
		if timeoutCtx.Err() == nil {
			return fmt.Sprintf("Tool error (%s): %v", call.ToolName, res.err), false, nil
		}
	case <-timeoutCtx.Done():
	}

	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return "", false, fmt.Errorf("%w: %s after %v", ErrTimeout, call.ToolName, e.timeout)
}

func (e *Executor) runShields(ctx context.Context, dialog []message.Message, shields []safety.ShieldDefinition) ([]safety.Verdict, error) {
	if e.shields == nil || len(shields) == 0 {
		return nil, nil
	}
	return e.shields.RunShields(ctx, dialog, shields)
}

func (e *Executor) record(ctx context.Context, call message.ToolCall, duration time.Duration, status, errText string) {
	observability.RecordToolExecution(call.ToolName, duration, status == "success")
	meta := map[string]interface{}{
		"call_id":     call.CallID,
		"duration_ms": duration.Milliseconds(),
	}
	if errText != "" {
		meta["error"] = errText
	}
	observability.RecordToolAudit(ctx, call.ToolName, status, meta)
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	for _, s := range append(append([]safety.ShieldDefinition(nil), def.InputShields...), def.OutputShields...) {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ParametersSchema renders tool parameters as a JSON Schema object
func ParametersSchema(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := ParametersSchema(def)
	schemaMap["additionalProperties"] = false
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, err := range result.Errors() {
			errs = append(errs, err.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

func truncateOutput(output string) (string, bool) {
	if len(output) <= maxOutputSize {
		return output, false
	}
	cut := maxOutputSize
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + "\n... [output truncated]", true
}
