package agent

import (
	"context"
	"fmt"

	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/toolexecutor"
	"github.com/harun/agentic/pkg/turn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultCustomToolIters bounds the turns one ExecuteTurn call may run
const DefaultCustomToolIters = 5

// CustomTool is a tool resolved on the caller's side of the engine
type CustomTool interface {
	Definition() toolexecutor.ToolDefinition
	Run(ctx context.Context, call message.ToolCall) (string, error)
}

// CustomToolFunc adapts a definition and a function to CustomTool
type CustomToolFunc struct {
	Def toolexecutor.ToolDefinition
	Fn  func(ctx context.Context, args map[string]interface{}) (string, error)
}

// Definition implements CustomTool
func (t CustomToolFunc) Definition() toolexecutor.ToolDefinition {
	return t.Def
}

// Run implements CustomTool
func (t CustomToolFunc) Run(ctx context.Context, call message.ToolCall) (string, error) {
	return t.Fn(ctx, call.Arguments)
}

// CustomToolDefinitions returns the definitions to place in AgentConfig.Tools
func CustomToolDefinitions(tools []CustomTool) []toolexecutor.ToolDefinition {
	out := make([]toolexecutor.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Definition())
	}
	return out
}

// CustomToolConfig configures a CustomToolExecutor
type CustomToolConfig struct {
	Registry  *Registry
	AgentID   string
	SessionID string
	Tools     []CustomTool
	MaxIters  int
	Stream    bool
	Logger    zerolog.Logger
	// OnEvent sees every event of every turn except turn_complete
	OnEvent func(Event)
	// OnToolResponse sees each locally produced tool response
	OnToolResponse func(message.ToolResponseMessage)
}

// CustomToolExecutor runs turns and resolves custom tool calls handed back
// by the engine, feeding each answer into the next turn
type CustomToolExecutor struct {
	cfg   CustomToolConfig
	tools map[string]CustomTool
}

// NewCustomToolExecutor creates a CustomToolExecutor
func NewCustomToolExecutor(cfg CustomToolConfig) (*CustomToolExecutor, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.MaxIters <= 0 {
		cfg.MaxIters = DefaultCustomToolIters
	}

	tools := make(map[string]CustomTool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		name := t.Definition().Name
		if _, exists := tools[name]; exists {
			return nil, fmt.Errorf("duplicate custom tool: %s", name)
		}
		tools[name] = t
	}
	return &CustomToolExecutor{cfg: cfg, tools: tools}, nil
}

// ExecuteTurn runs turns until the output needs no custom tool, the model
// runs out of tokens, or the iteration budget is spent. It returns every
// turn it ran.
func (x *CustomToolExecutor) ExecuteTurn(ctx context.Context, msgs message.List) ([]turn.Turn, error) {
	ctx, span := tracing.StartSpan(ctx, "agentic.agent", "agent.custom_tool_turn",
		attribute.String("agent_id", x.cfg.AgentID),
		attribute.String("session_id", x.cfg.SessionID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, x.cfg.Logger)

	var turns []turn.Turn
	current := append(message.List(nil), msgs...)
	for i := 0; i < x.cfg.MaxIters; i++ {
		t, err := x.cfg.Registry.RunTurn(ctx, TurnRequest{
			AgentID:   x.cfg.AgentID,
			SessionID: x.cfg.SessionID,
			Messages:  current,
			Stream:    x.cfg.Stream,
		}, x.onEvent)
		if err != nil {
			tracing.FailSpan(span, err, "custom tool turn failed")
			return turns, err
		}
		turns = append(turns, t)

		out := t.OutputMessage
		call, ok := out.FirstToolCall()
		if !ok || out.StopReason == message.StopOutOfTokens {
			return turns, nil
		}

		resp, err := x.resolve(ctx, call)
		if err != nil {
			tracing.FailSpan(span, err, "custom tool failed")
			return turns, err
		}
		if x.cfg.OnToolResponse != nil {
			x.cfg.OnToolResponse(resp)
		}
		logger.Debug().Str("tool", call.ToolName).Str("call_id", call.CallID).Msg("Custom tool resolved")
		current = message.List{resp}
	}

	logger.Info().Int("iterations", x.cfg.MaxIters).Msg("Custom tool budget reached")
	return turns, nil
}

func (x *CustomToolExecutor) resolve(ctx context.Context, call message.ToolCall) (message.ToolResponseMessage, error) {
	respond := func(content string) message.ToolResponseMessage {
		return message.ToolResponseMessage{CallID: call.CallID, ToolName: call.ToolName, Content: content}
	}

	tool, ok := x.tools[call.ToolName]
	if !ok {
		return respond(fmt.Sprintf("Unknown tool `%s` was called. Try again with something else", call.ToolName)), nil
	}
	out, err := tool.Run(ctx, call)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return message.ToolResponseMessage{}, ctxErr
		}
		return respond(fmt.Sprintf("Tool error (%s): %v", call.ToolName, err)), nil
	}
	return respond(out), nil
}

func (x *CustomToolExecutor) onEvent(ev Event) {
	if x.cfg.OnEvent == nil {
		return
	}
	if _, ok := ev.(TurnComplete); ok {
		return
	}
	x.cfg.OnEvent(ev)
}
