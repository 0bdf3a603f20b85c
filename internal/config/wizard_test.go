package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWizard(t *testing.T, answers ...string) (*Config, string, error) {
	t.Helper()
	var out bytes.Buffer
	cfg, err := NewWizard(strings.NewReader(strings.Join(answers, "\n")+"\n"), &out).Run()
	return cfg, out.String(), err
}

func TestWizardRun(t *testing.T) {
	t.Run("should build profiles and moderation settings", func(t *testing.T) {
		cfg, _, err := runWizard(t,
			"sk-ant-abc", // anthropic
			"",           // openai
			"keyword",
			"bomb, weapon",
			"9090",
			"",
			"debug",
		)
		require.NoError(t, err)

		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, []string{"bomb", "weapon"}, cfg.Moderation.Keywords)
		assert.Equal(t, 9090, cfg.Gateway.Port)
		assert.Equal(t, "agents.yaml", cfg.AgentsFile)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Len(t, cfg.Gateway.SharedSecret, secretLength)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("should re-prompt on invalid keys", func(t *testing.T) {
		cfg, out, err := runWizard(t, "bad", "sk-ant-abc", "sk-openai", "openai", "", "", "")
		require.NoError(t, err)

		assert.Contains(t, out, "invalid Anthropic API key format")
		assert.Len(t, cfg.AI.Profiles, 2)
		assert.Equal(t, 1, cfg.AI.Profiles[1].Priority)
		assert.Equal(t, "openai", cfg.Moderation.Provider)
	})

	t.Run("should require an API key", func(t *testing.T) {
		_, _, err := runWizard(t, "", "")
		assert.Error(t, err)
	})
}
