package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/safety"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, args map[string]interface{}) (string, error) {
	return args["query"].(string), nil
}

func setupTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	return New(cfg)
}

func TestExecutor_RegisterBuiltin(t *testing.T) {
	t.Run("should fill in the stock definition", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(ToolDefinition{Name: "brave_search"}, echoHandler))

		assert.True(t, e.IsBuiltin("brave_search"))
		defs := e.Definitions()
		require.Len(t, defs, 1)
		assert.NotEmpty(t, defs[0].Description)
		assert.Equal(t, "query", defs[0].Parameters[0].Name)
	})

	t.Run("should reject unknown builtin names", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		err := e.RegisterBuiltin(ToolDefinition{Name: "web_browser"}, echoHandler)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown builtin tool")
	})

	t.Run("should require a handler", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		assert.Error(t, e.RegisterBuiltin(ToolDefinition{Name: "photogen"}, nil))
	})

	t.Run("should keep registration order", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(WolframAlpha), echoHandler))
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(BraveSearch), echoHandler))
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(WolframAlpha), echoHandler))
		assert.Equal(t, []string{"wolfram_alpha", "brave_search"}, e.BuiltinNames())
	})
}

func TestExecutor_RegisterCustom(t *testing.T) {
	tests := []struct {
		name    string
		def     ToolDefinition
		wantErr bool
	}{
		{"valid", ToolDefinition{Name: "get_boiling_point", Description: "Boiling point", Parameters: []ToolParameter{{Name: "liquid", Type: "string", Required: true}}}, false},
		{"empty name", ToolDefinition{Description: "x"}, true},
		{"empty description", ToolDefinition{Name: "x"}, true},
		{"builtin name", ToolDefinition{Name: "photogen", Description: "x"}, true},
		{"bad parameter type", ToolDefinition{Name: "x", Description: "x", Parameters: []ToolParameter{{Name: "a", Type: "date"}}}, true},
		{"bad shield", ToolDefinition{Name: "x", Description: "x", InputShields: []safety.ShieldDefinition{{}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupTestExecutor(t, Config{})
			err := e.RegisterCustom(tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, e.IsBuiltin(tt.def.Name))
			assert.Equal(t, []ToolDefinition{tt.def}, e.CustomDefinitions())
		})
	}
}

func TestExecutor_Dispatch(t *testing.T) {
	ctx := context.Background()
	call := func(name string, args map[string]interface{}) message.ToolCall {
		return message.ToolCall{CallID: "call-1", ToolName: name, Arguments: args}
	}

	t.Run("should run the handler", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(BraveSearch), echoHandler))

		res, err := e.Dispatch(ctx, call("brave_search", map[string]interface{}{"query": "weather"}))
		require.NoError(t, err)
		assert.Equal(t, message.ToolResponseMessage{CallID: "call-1", ToolName: "brave_search", Content: "weather"}, res.Response)
		assert.Empty(t, res.Attachments)
	})

	t.Run("should answer unknown tools inline", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})

		res, err := e.Dispatch(ctx, call("teleport", nil))
		require.NoError(t, err)
		assert.Equal(t, "Unknown tool `teleport` was called. Try again with something else", res.Response.Content)
		assert.Equal(t, "call-1", res.Response.CallID)
	})

	t.Run("should report invalid arguments inline", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(BraveSearch), echoHandler))

		res, err := e.Dispatch(ctx, call("brave_search", map[string]interface{}{"q": 1}))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Response.Content, "Tool error (brave_search): parameter validation failed"))
	})

	t.Run("should report handler errors inline", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(WolframAlpha), func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", errors.New("quota exceeded")
		}))

		res, err := e.Dispatch(ctx, call("wolfram_alpha", map[string]interface{}{"query": "2+2"}))
		require.NoError(t, err)
		assert.Equal(t, "Tool error (wolfram_alpha): quota exceeded", res.Response.Content)
	})

	t.Run("should report handler panics inline", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(BraveSearch), func(ctx context.Context, args map[string]interface{}) (string, error) {
			var hits map[string]int
			hits["query"]++
			return "unreachable", nil
		}))

		res, err := e.Dispatch(ctx, call("brave_search", map[string]interface{}{"query": "x"}))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.Response.Content, "Tool error (brave_search): panic: "))
		assert.Equal(t, "call-1", res.Response.CallID)
	})

	t.Run("should fail on timeout", func(t *testing.T) {
		e := setupTestExecutor(t, Config{Timeout: 20 * time.Millisecond})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(CodeInterpreter), func(ctx context.Context, args map[string]interface{}) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))

		_, err := e.Dispatch(ctx, call("code_interpreter", map[string]interface{}{"code": "while True: pass"}))
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("should surface cancellation", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		started := make(chan struct{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(CodeInterpreter), func(ctx context.Context, args map[string]interface{}) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}))

		cctx, cancel := context.WithCancel(ctx)
		go func() {
			<-started
			cancel()
		}()
		_, err := e.Dispatch(cctx, call("code_interpreter", map[string]interface{}{"code": "x"}))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("should truncate large output", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(BraveSearch), func(ctx context.Context, args map[string]interface{}) (string, error) {
			return strings.Repeat("a", 20*1024), nil
		}))

		res, err := e.Dispatch(ctx, call("brave_search", map[string]interface{}{"query": "x"}))
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.True(t, strings.HasSuffix(res.Response.Content, "[output truncated]"))
	})

	t.Run("should truncate on a rune boundary", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(BraveSearch), func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "a" + strings.Repeat("é", 10*1024), nil
		}))

		res, err := e.Dispatch(ctx, call("brave_search", map[string]interface{}{"query": "x"}))
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.True(t, utf8.ValidString(res.Response.Content))
	})

	t.Run("should keep attachments past the truncation limit", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(CodeInterpreter), func(ctx context.Context, args map[string]interface{}) (string, error) {
			tag := `__tools_attachment__={"filepath": "/tmp/big.csv", "mimetype": "text/csv"}`
			return strings.Repeat("x", maxOutputSize-20) + tag + strings.Repeat("y", 4096), nil
		}))

		res, err := e.Dispatch(ctx, call("code_interpreter", map[string]interface{}{"code": "dump()"}))
		require.NoError(t, err)
		require.Len(t, res.Attachments, 1)
		assert.Equal(t, "file:///tmp/big.csv", res.Attachments[0].URI)
	})

	t.Run("should expose call info to handlers", func(t *testing.T) {
		e := setupTestExecutor(t, Config{})
		var got CallInfo
		require.NoError(t, e.RegisterBuiltin(DefaultDefinition(Photogen), func(ctx context.Context, args map[string]interface{}) (string, error) {
			got, _ = CallInfoFromContext(ctx)
			return "ok", nil
		}))

		_, err := e.Dispatch(ctx, call("photogen", map[string]interface{}{"query": "a cat"}))
		require.NoError(t, err)
		assert.Equal(t, "call-1", got.CallID)
		assert.Equal(t, "photogen", got.ToolName)
	})
}

func TestExecutor_DispatchAttachments(t *testing.T) {
	e := setupTestExecutor(t, Config{})
	require.NoError(t, e.RegisterBuiltin(DefaultDefinition(CodeInterpreter), func(ctx context.Context, args map[string]interface{}) (string, error) {
		return `saved plot __tools_attachment__={"filepath": "/tmp/plot.png", "mimetype": "image/png"}`, nil
	}))

	res, err := e.Dispatch(context.Background(), message.ToolCall{
		CallID: "c9", ToolName: "code_interpreter", Arguments: map[string]interface{}{"code": "plot()"},
	})
	require.NoError(t, err)

	require.Len(t, res.Attachments, 1)
	assert.Equal(t, message.Attachment{URI: "file:///tmp/plot.png", MimeType: "image/png"}, res.Attachments[0])
	assert.Equal(t, `saved plot # There is a file accessible to you at "/tmp/plot.png"`, res.Response.Content)
}

func TestExtractAttachments(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		count   int
	}{
		{"no tag", "plain output", "plain output", 0},
		{"malformed json is left alone", `__tools_attachment__={"filepath": }`, `__tools_attachment__={"filepath": }`, 0},
		{"two files", `__tools_attachment__={"filepath":"/a","mimetype":"text/csv"} and __tools_attachment__={"filepath":"/b","mimetype":"text/csv"}`,
			`# There is a file accessible to you at "/a" and # There is a file accessible to you at "/b"`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, attachments := extractAttachments(tt.content)
			assert.Equal(t, tt.want, got)
			assert.Len(t, attachments, tt.count)
		})
	}
}

func TestExecutor_DispatchShields(t *testing.T) {
	newRunner := func(t *testing.T, blocked string) *safety.Runner {
		checker, err := safety.NewKeywordChecker(safety.KeywordConfig{Keywords: []string{blocked}, RedirectMessage: "blocked"})
		require.NoError(t, err)
		runner, err := safety.NewRunner(safety.Config{
			Checker: checker,
			Logger:  zerolog.Nop(),
			Audit:   observability.NewAuditLogger(zerolog.Nop()),
		})
		require.NoError(t, err)
		return runner
	}

	shielded := DefaultDefinition(BraveSearch)
	shielded.InputShields = []safety.ShieldDefinition{{ShieldType: "keyword"}}
	shielded.OutputShields = []safety.ShieldDefinition{{ShieldType: "keyword"}}

	t.Run("should block on input shield before running the handler", func(t *testing.T) {
		e := setupTestExecutor(t, Config{Shields: newRunner(t, "forbidden")})
		called := false
		require.NoError(t, e.RegisterBuiltin(shielded, func(ctx context.Context, args map[string]interface{}) (string, error) {
			called = true
			return "ok", nil
		}))

		dialog := message.CompletionMessage{
			Content:    "searching for forbidden things",
			ToolCalls:  []message.ToolCall{{CallID: "c1", ToolName: "brave_search", Arguments: map[string]interface{}{"query": "x"}}},
			StopReason: message.StopEndOfTurn,
		}
		_, err := e.Dispatch(context.Background(), dialog.ToolCalls[0], dialog)
		var safetyErr *safety.SafetyError
		require.ErrorAs(t, err, &safetyErr)
		assert.Equal(t, "blocked", safetyErr.Error())
		assert.False(t, called)
	})

	t.Run("should block on output shield", func(t *testing.T) {
		e := setupTestExecutor(t, Config{Shields: newRunner(t, "secret")})
		require.NoError(t, e.RegisterBuiltin(shielded, func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "the secret recipe", nil
		}))

		res, err := e.Dispatch(context.Background(), message.ToolCall{CallID: "c1", ToolName: "brave_search", Arguments: map[string]interface{}{"query": "x"}})
		var safetyErr *safety.SafetyError
		require.ErrorAs(t, err, &safetyErr)
		require.Len(t, res.Verdicts, 2)
		assert.False(t, res.Verdicts[0].IsViolation)
		assert.True(t, res.Verdicts[1].IsViolation)
	})

	t.Run("should collect passing verdicts", func(t *testing.T) {
		e := setupTestExecutor(t, Config{Shields: newRunner(t, "secret")})
		require.NoError(t, e.RegisterBuiltin(shielded, echoHandler))

		res, err := e.Dispatch(context.Background(), message.ToolCall{CallID: "c1", ToolName: "brave_search", Arguments: map[string]interface{}{"query": "weather"}})
		require.NoError(t, err)
		assert.Len(t, res.Verdicts, 2)
	})
}

func TestParseBuiltin(t *testing.T) {
	for _, name := range []string{"brave_search", "wolfram_alpha", "photogen", "code_interpreter"} {
		b, err := ParseBuiltin(name)
		require.NoError(t, err)
		assert.Equal(t, name, string(b))
		assert.Equal(t, name, DefaultDefinition(b).Name)
	}
	assert.False(t, IsBuiltin("get_weather"))
}
