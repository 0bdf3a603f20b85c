package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/harun/agentic/pkg/inference"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boilingPointTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_boiling_point",
		Description: "Get the boiling point of a liquid",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "liquid_name", Type: "string", Description: "The name of the liquid", Required: true},
		},
	}
}

func boilingPoint() CustomTool {
	return CustomToolFunc{
		Def: boilingPointTool(),
		Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if args["liquid_name"] == "water" {
				return "100", nil
			}
			return "", errors.New("unknown liquid")
		},
	}
}

func setupTestCustomExecutor(t *testing.T, env *testEnv, tools []CustomTool, maxIters int) (*CustomToolExecutor, *[]message.ToolResponseMessage) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Tools = CustomToolDefinitions([]CustomTool{boilingPoint()})
	agentID, sessionID := env.agentSession(t, cfg)

	var responses []message.ToolResponseMessage
	x, err := NewCustomToolExecutor(CustomToolConfig{
		Registry:       env.reg,
		AgentID:        agentID,
		SessionID:      sessionID,
		Tools:          tools,
		MaxIters:       maxIters,
		Logger:         zerolog.Nop(),
		OnToolResponse: func(r message.ToolResponseMessage) { responses = append(responses, r) },
	})
	require.NoError(t, err)
	return x, &responses
}

func boilingCall(id, liquid string) inference.Script {
	return inference.CallTool(message.ToolCall{
		CallID:    id,
		ToolName:  "get_boiling_point",
		Arguments: map[string]interface{}{"liquid_name": liquid},
	})
}

func TestCustomToolExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("should resolve a handed back call and run the next turn", func(t *testing.T) {
		env := setupTestEnv(t)
		x, responses := setupTestCustomExecutor(t, env, []CustomTool{boilingPoint()}, 0)
		env.provider.Push(
			boilingCall("call_1", "water"),
			inference.Reply("Water boils at 100C", message.StopEndOfTurn),
		)

		turns, err := x.ExecuteTurn(ctx, message.List{user("When does water boil?")})
		require.NoError(t, err)
		require.Len(t, turns, 2)

		require.Len(t, *responses, 1)
		assert.Equal(t, "call_1", (*responses)[0].CallID)
		assert.Equal(t, "100", (*responses)[0].Content)

		input := turns[1].InputMessages
		require.Len(t, input, 1)
		assert.Equal(t, (*responses)[0], input[0])
		assert.Equal(t, "Water boils at 100C", turns[1].OutputMessage.Content)
	})

	t.Run("should answer unknown tools with an error message", func(t *testing.T) {
		env := setupTestEnv(t)
		x, responses := setupTestCustomExecutor(t, env, nil, 0)
		env.provider.Push(
			boilingCall("call_1", "water"),
			inference.Reply("I could not look that up", message.StopEndOfTurn),
		)

		_, err := x.ExecuteTurn(ctx, message.List{user("boil?")})
		require.NoError(t, err)
		require.Len(t, *responses, 1)
		assert.Equal(t, "Unknown tool `get_boiling_point` was called. Try again with something else", (*responses)[0].Content)
	})

	t.Run("should report tool failures inline", func(t *testing.T) {
		env := setupTestEnv(t)
		x, responses := setupTestCustomExecutor(t, env, []CustomTool{boilingPoint()}, 0)
		env.provider.Push(
			boilingCall("call_1", "lava"),
			inference.Reply("Unknown", message.StopEndOfTurn),
		)

		_, err := x.ExecuteTurn(ctx, message.List{user("lava?")})
		require.NoError(t, err)
		assert.Contains(t, (*responses)[0].Content, "unknown liquid")
	})

	t.Run("should stop after the iteration budget", func(t *testing.T) {
		env := setupTestEnv(t)
		x, _ := setupTestCustomExecutor(t, env, []CustomTool{boilingPoint()}, 2)
		for i := 0; i < 4; i++ {
			env.provider.Push(boilingCall("call", "water"))
		}

		turns, err := x.ExecuteTurn(ctx, message.List{user("again")})
		require.NoError(t, err)
		assert.Len(t, turns, 2)
	})

	t.Run("should reject duplicate tools", func(t *testing.T) {
		env := setupTestEnv(t)
		_, err := NewCustomToolExecutor(CustomToolConfig{
			Registry: env.reg,
			Tools:    []CustomTool{boilingPoint(), boilingPoint()},
		})
		assert.Error(t, err)
	})
}
