package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/agentic/internal/config"
	"github.com/harun/agentic/internal/logger"
	"github.com/harun/agentic/pkg/agent"
	"github.com/harun/agentic/pkg/inference"
	"github.com/harun/agentic/pkg/safety"
	"github.com/harun/agentic/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAgents = `
agents:
  - name: default
    instructions: You are a helpful assistant.
  - name: careful
    max_infer_iters: 3
    input_shields:
      - shield_type: keyword
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	agentsFile := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(agentsFile, []byte(testAgents), 0600))

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.AgentsFile = agentsFile
	cfg.Logging = logger.Config{Level: "error", Output: &bytes.Buffer{}}
	cfg.AI.Profiles = []inference.Profile{
		{ID: "anthropic", Provider: "anthropic", APIKey: "sk-ant-test", Model: "claude-sonnet-4-20250514"},
	}
	cfg.Moderation.Keywords = []string{"bomb"}
	return cfg
}

// setupTestApp builds an app around a scripted provider
func setupTestApp(t *testing.T, provider inference.Provider) *app {
	t.Helper()
	cfg := testConfig(t)

	l, err := logger.New(cfg.Logging)
	require.NoError(t, err)

	checker, err := newChecker(cfg)
	require.NoError(t, err)

	store := session.New(session.Config{Logger: l.Component("session")})
	registry, err := agent.NewRegistry(agent.Config{
		Store:    store,
		Provider: provider,
		Checker:  checker,
		Logger:   l.Component("agent"),
	})
	require.NoError(t, err)

	a := &app{cfg: cfg, log: l, logger: l.Zerolog(), store: store, registry: registry}
	require.NoError(t, a.registerAgents(context.Background()))
	t.Cleanup(a.Close)
	return a
}

func TestNewApp(t *testing.T) {
	t.Run("should register every definition", func(t *testing.T) {
		a, err := newApp(context.Background(), testConfig(t))
		require.NoError(t, err)
		defer a.Close()

		agents := a.registry.ListAgents()
		require.Len(t, agents, 2)
		assert.Equal(t, "default", agents[0].Name)

		careful, err := a.registry.AgentByName("careful")
		require.NoError(t, err)
		assert.Equal(t, 3, careful.Config().MaxInferIters)

		def, err := a.registry.AgentByName("default")
		require.NoError(t, err)
		assert.Equal(t, a.cfg.Engine.MaxInferIters, def.Config().MaxInferIters)
	})

	t.Run("should reject an invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI.Profiles = nil

		_, err := newApp(context.Background(), cfg)
		assert.ErrorContains(t, err, "invalid configuration")
	})

	t.Run("should fail on a missing agents file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AgentsFile = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := newApp(context.Background(), cfg)
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("should use the default agent without an agents file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AgentsFile = ""

		a, err := newApp(context.Background(), cfg)
		require.NoError(t, err)
		defer a.Close()

		_, err = a.registry.AgentByName("default")
		assert.NoError(t, err)
	})
}

func TestNewChecker(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		want     interface{}
	}{
		{name: "keyword", provider: "keyword", want: &safety.KeywordChecker{}},
		{name: "openai", provider: "openai", want: &safety.OpenAIModerationChecker{}},
	}

	for _, tt := range tests {
		t.Run("should build the "+tt.name+" checker", func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Moderation.Provider = tt.provider
			cfg.Moderation.APIKey = "sk-test"

			checker, err := newChecker(cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, checker)
		})
	}

	t.Run("should reject a bad pattern", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Moderation.Patterns = []string{"("}

		_, err := newChecker(cfg)
		assert.ErrorContains(t, err, "invalid moderation config")
	})
}
