package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitionsYAML = `
agents:
  - name: assistant
    model: gpt-4o-mini
    instructions: You are a helpful assistant.
    max_infer_iters: 5
    sampling_params:
      temperature: 0.2
      max_tokens: 512
    tools:
      - name: brave_search
        output_shields:
          - shield_type: llama_guard
      - name: get_boiling_point
        description: Get the boiling point of a liquid
        parameters:
          - name: liquid_name
            type: string
            required: true
    input_shields:
      - shield_type: llama_guard
        on_violation_action: warn
    debug_prefix_messages:
      - role: system
        content: fixed prefix
  - name: plain
`

func writeDefinitions(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefinitions(t *testing.T) {
	t.Run("should load YAML definitions", func(t *testing.T) {
		configs, err := LoadDefinitions(writeDefinitions(t, "agents.yaml", definitionsYAML))
		require.NoError(t, err)
		require.Len(t, configs, 2)

		a := configs[0]
		assert.Equal(t, "assistant", a.Name)
		assert.Equal(t, 5, a.MaxInferIters)
		assert.Equal(t, 0.2, a.Sampling.Temperature)
		assert.Equal(t, 512, a.Sampling.MaxTokens)
		require.Len(t, a.Tools, 2)
		assert.Equal(t, "llama_guard", a.Tools[0].OutputShields[0].ShieldType)
		assert.True(t, a.Tools[1].Parameters[0].Required)
		assert.Equal(t, safety.ActionWarn, a.InputShields[0].OnViolation)
		require.Len(t, a.DebugPrefixMessages, 1)
		assert.Equal(t, message.SystemMessage{Content: "fixed prefix"}, a.DebugPrefixMessages[0])
		assert.Equal(t, "plain", configs[1].Name)
	})

	t.Run("should load JSON definitions", func(t *testing.T) {
		path := writeDefinitions(t, "agents.json", `{"agents":[{"name":"json-agent","max_infer_iters":3}]}`)
		configs, err := LoadDefinitions(path)
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, 3, configs[0].MaxInferIters)
	})

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "agents.toml", "agents = []"},
		{"empty", "agents.yaml", ""},
		{"duplicate names", "agents.yaml", "agents:\n  - name: a\n  - name: a\n"},
		{"missing name", "agents.yaml", "agents:\n  - model: x\n"},
		{"invalid shield", "agents.yaml", "agents:\n  - name: a\n    input_shields:\n      - description: x\n"},
		{"bad yaml", "agents.yaml", "agents: [\n"},
	}
	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			_, err := LoadDefinitions(writeDefinitions(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	t.Run("should reject missing files", func(t *testing.T) {
		_, err := LoadDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
