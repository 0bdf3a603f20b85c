package config

import (
	"testing"

	"github.com/harun/agentic/pkg/inference"
	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"valid anthropic key", "sk-ant-test123", "anthropic", false},
		{"invalid anthropic key", "invalid-key", "anthropic", true},
		{"valid openai key", "sk-test123", "openai", false},
		{"invalid openai key", "invalid-key", "openai", true},
		{"empty key", "", "anthropic", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatorFields(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateProvider("openai"))
	assert.Error(t, v.ValidateProvider("gemini"))
	assert.NoError(t, v.ValidateBaseURL(""))
	assert.NoError(t, v.ValidateBaseURL("https://api.example.com/v1"))
	assert.Error(t, v.ValidateBaseURL("api.example.com"))
	assert.NoError(t, v.ValidateMaxInferIters(0))
	assert.Error(t, v.ValidateMaxInferIters(101))
	assert.Error(t, v.ValidateTimeout("tool_timeout_seconds", -1))
	assert.NoError(t, v.ValidatePattern(`(?i)how to build a \w+`))
	assert.Error(t, v.ValidatePattern(`([`))
	assert.NoError(t, v.ValidatePort(8080))
	assert.Error(t, v.ValidatePort(70000))
	assert.NoError(t, v.ValidateLogLevel("debug"))
	assert.Error(t, v.ValidateLogLevel("loud"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("should accept a valid config", func(t *testing.T) {
		cfg := validConfig()
		cfg.Moderation.Keywords = []string{"bomb"}
		assert.Empty(t, v.ValidateConfig(cfg))
	})

	t.Run("should collect every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles = append(cfg.AI.Profiles, inference.Profile{ID: "bad", Provider: "openai", APIKey: "nope"})
		cfg.Moderation.Patterns = []string{"(["}
		cfg.Gateway.Port = -1
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)
	})

	t.Run("should flag a keyword checker with nothing to match", func(t *testing.T) {
		errs := v.ValidateConfig(validConfig())
		if assert.Len(t, errs, 1) {
			assert.Contains(t, errs[0].Error(), "no keywords")
		}
	})
}
