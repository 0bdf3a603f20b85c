package inference

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harun/agentic/pkg/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func setupTestFailover(t *testing.T, providers map[string]*ScriptedProvider, profiles ...Profile) (*Failover, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := NewFailover(FailoverConfig{
		Profiles: profiles,
		Factory: FactoryFunc(func(p Profile) (Provider, error) {
			provider, ok := providers[p.ID]
			if !ok {
				return nil, fmt.Errorf("unsupported provider: %s", p.Provider)
			}
			return provider, nil
		}),
		Logger:       zerolog.Nop(),
		CooldownStep: time.Minute,
		Now:          clock.Now,
	})
	return f, clock
}

func TestFailover_StreamCompletion(t *testing.T) {
	ctx := context.Background()
	req := Request{Messages: []message.Message{message.UserMessage{Content: "hi"}}}

	t.Run("should prefer the lowest priority value", func(t *testing.T) {
		primary := NewScriptedProvider(Reply("from primary", message.StopEndOfTurn))
		backup := NewScriptedProvider(Reply("from backup", message.StopEndOfTurn))
		f, _ := setupTestFailover(t, map[string]*ScriptedProvider{"a": primary, "b": backup},
			Profile{ID: "b", Priority: 2},
			Profile{ID: "a", Priority: 1, Model: "model-a"},
		)

		stream, err := f.StreamCompletion(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "from primary", build(drain(t, stream)).Content)
		assert.Equal(t, 0, backup.Calls())
		assert.Equal(t, "model-a", primary.Requests()[0].Model)
	})

	t.Run("should fall through on retryable errors and cool the profile down", func(t *testing.T) {
		primary := NewScriptedProvider(
			Script{StreamErr: errors.New("503 service unavailable")},
			Reply("primary again", message.StopEndOfTurn),
		)
		backup := NewScriptedProvider(
			Reply("from backup", message.StopEndOfTurn),
			Reply("backup again", message.StopEndOfTurn),
		)
		f, clock := setupTestFailover(t, map[string]*ScriptedProvider{"a": primary, "b": backup},
			Profile{ID: "a", Priority: 1},
			Profile{ID: "b", Priority: 2},
		)

		stream, err := f.StreamCompletion(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "from backup", build(drain(t, stream)).Content)

		stream, err = f.StreamCompletion(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "backup again", build(drain(t, stream)).Content)
		assert.Equal(t, 1, primary.Calls())

		clock.now = clock.now.Add(2 * time.Minute)
		stream, err = f.StreamCompletion(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "primary again", build(drain(t, stream)).Content)
	})

	t.Run("should stop on permanent errors", func(t *testing.T) {
		primary := NewScriptedProvider(Script{Err: errors.New("invalid request")})
		backup := NewScriptedProvider(Reply("unused", message.StopEndOfTurn))
		f, _ := setupTestFailover(t, map[string]*ScriptedProvider{"a": primary, "b": backup},
			Profile{ID: "a", Priority: 1},
			Profile{ID: "b", Priority: 2},
		)

		_, err := f.StreamCompletion(ctx, req)
		assert.EqualError(t, err, "invalid request")
		assert.Equal(t, 0, backup.Calls())
	})

	t.Run("should report exhaustion", func(t *testing.T) {
		primary := NewScriptedProvider(Script{Err: errors.New("429 rate limit")})
		f, _ := setupTestFailover(t, map[string]*ScriptedProvider{"a": primary}, Profile{ID: "a"})

		_, err := f.StreamCompletion(ctx, req)
		assert.ErrorIs(t, err, ErrNoProvider)

		_, err = f.StreamCompletion(ctx, req)
		assert.ErrorIs(t, err, ErrNoProvider)
		assert.Equal(t, 1, primary.Calls())
	})

	t.Run("should not fail over a cancelled request", func(t *testing.T) {
		primary := NewScriptedProvider(Script{Block: true})
		backup := NewScriptedProvider(Reply("unused", message.StopEndOfTurn))
		f, _ := setupTestFailover(t, map[string]*ScriptedProvider{"a": primary, "b": backup},
			Profile{ID: "a", Priority: 1},
			Profile{ID: "b", Priority: 2},
		)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := f.StreamCompletion(cctx, req)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, backup.Calls())
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"server error", errors.New("upstream returned 502"), true},
		{"connection reset", errors.New("read: ECONNRESET"), true},
		{"bad request", errors.New("400 invalid model"), false},
		{"cancelled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("stream: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestProviderFactory(t *testing.T) {
	var f ProviderFactory

	p, err := f.NewProvider(Profile{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = f.NewProvider(Profile{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = f.NewProvider(Profile{Provider: "gemini"})
	assert.Error(t, err)
}
