package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/harun/agentic/pkg/agent"
	"github.com/harun/agentic/pkg/inference"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTestChat(t *testing.T, a *app, agentName string, lines ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	err := a.chat(context.Background(), in, &out, agentName, true)
	return out.String(), err
}

func TestChat(t *testing.T) {
	t.Run("should print the streamed answer", func(t *testing.T) {
		provider := inference.NewScriptedProvider(
			inference.Reply("Hello there", message.StopEndOfTurn),
		)
		a := setupTestApp(t, provider)

		out, err := runTestChat(t, a, "default", "hi")
		require.NoError(t, err)

		assert.Contains(t, out, "Chatting with default")
		assert.Contains(t, out, "Hello there")
		assert.Equal(t, 1, provider.Calls())
	})

	t.Run("should answer the local time tool", func(t *testing.T) {
		provider := inference.NewScriptedProvider(
			inference.CallTool(message.ToolCall{
				CallID:    "call-1",
				ToolName:  "get_current_time",
				Arguments: map[string]interface{}{"timezone": "UTC"},
			}),
			inference.Reply("It is noon", message.StopEndOfTurn),
		)
		a := setupTestApp(t, provider)

		out, err := runTestChat(t, a, "default", "what time is it?")
		require.NoError(t, err)

		assert.Contains(t, out, "It is noon")
		require.Equal(t, 2, provider.Calls())

		second := provider.Requests()[1]
		var answered bool
		for _, m := range second.Messages {
			if resp, ok := m.(message.ToolResponseMessage); ok && resp.CallID == "call-1" {
				answered = true
			}
		}
		assert.True(t, answered, "second turn should carry the tool response")
	})

	t.Run("should skip blank lines", func(t *testing.T) {
		provider := inference.NewScriptedProvider(
			inference.Reply("ok", message.StopEndOfTurn),
		)
		a := setupTestApp(t, provider)

		_, err := runTestChat(t, a, "default", "", "   ", "go")
		require.NoError(t, err)
		assert.Equal(t, 1, provider.Calls())
	})

	t.Run("should report turn errors and keep going", func(t *testing.T) {
		provider := inference.NewScriptedProvider()
		a := setupTestApp(t, provider)

		out, err := runTestChat(t, a, "default", "hello")
		require.NoError(t, err)
		assert.Contains(t, out, "error:")
	})

	t.Run("should fail for an unknown agent", func(t *testing.T) {
		a := setupTestApp(t, inference.NewScriptedProvider())

		_, err := runTestChat(t, a, "nobody")
		assert.ErrorIs(t, err, agent.ErrAgentNotFound)
	})
}

func TestLocalTools(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC) }
	tool := localTools(now)[0]
	ctx := context.Background()

	t.Run("should format the current time", func(t *testing.T) {
		out, err := tool.Run(ctx, message.ToolCall{ToolName: "get_current_time"})
		require.NoError(t, err)
		assert.Equal(t, "Fri, 02 Jan 2026 12:00:00 UTC", out)
	})

	t.Run("should reject an unknown timezone", func(t *testing.T) {
		_, err := tool.Run(ctx, message.ToolCall{
			ToolName:  "get_current_time",
			Arguments: map[string]interface{}{"timezone": "Mars/Olympus"},
		})
		assert.Error(t, err)
	})
}

func TestWithTools(t *testing.T) {
	t.Run("should not duplicate declared tools", func(t *testing.T) {
		cfg := agent.DefaultConfig()
		cfg.Tools = []toolexecutor.ToolDefinition{{Name: "get_current_time", Description: "declared"}}

		out := withTools(cfg, localTools(time.Now))
		require.Len(t, out.Tools, 1)
		assert.Equal(t, "declared", out.Tools[0].Description)
	})

	t.Run("should append missing tools without touching the input", func(t *testing.T) {
		cfg := agent.DefaultConfig()

		out := withTools(cfg, localTools(time.Now))
		assert.Len(t, out.Tools, 1)
		assert.Empty(t, cfg.Tools)
	})
}
