package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/safety"
	"github.com/harun/agentic/pkg/toolexecutor"
)

// DefaultMaxInferIters bounds inference calls per turn
const DefaultMaxInferIters = 10

var (
	// ErrAgentNotFound is returned for unknown agent ids
	ErrAgentNotFound = errors.New("agent not found")
	// ErrUpstreamUnavailable marks an inference or safety backend that could
	// not be reached. It is the only failure that ends a turn without a
	// turn_complete event.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInferenceTimeout is returned when a completion exceeds its deadline
	ErrInferenceTimeout = fmt.Errorf("%w: inference timed out", ErrUpstreamUnavailable)
	// ErrToolTimeout is returned when a builtin tool exceeds its deadline
	ErrToolTimeout = fmt.Errorf("%w: tool timed out", ErrUpstreamUnavailable)
)

// SamplingParams is passed through to the inference backend
type SamplingParams struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// AgentConfig configures an agent instance
type AgentConfig struct {
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	// Tools lists builtin and custom tools. Builtin tools are recognised by
	// name and need a handler registered with the Registry.
	Tools         []toolexecutor.ToolDefinition `json:"tools,omitempty"`
	InputShields  []safety.ShieldDefinition     `json:"input_shields,omitempty"`
	OutputShields []safety.ShieldDefinition     `json:"output_shields,omitempty"`
	MaxInferIters int                           `json:"max_infer_iters,omitempty"`
	Sampling      SamplingParams                `json:"sampling_params,omitempty"`
	// DebugPrefixMessages replaces the generated system preamble when set
	DebugPrefixMessages message.List `json:"debug_prefix_messages,omitempty"`
}

// DefaultConfig returns default agent configuration
func DefaultConfig() AgentConfig {
	return AgentConfig{
		Name:          "default",
		MaxInferIters: DefaultMaxInferIters,
		Sampling: SamplingParams{
			Temperature: 0.7,
			MaxTokens:   4096,
		},
	}
}

// Validate checks the configuration
func (c AgentConfig) Validate() error {
	if c.MaxInferIters < 0 {
		return fmt.Errorf("max_infer_iters cannot be negative")
	}
	seen := make(map[string]bool, len(c.Tools))
	for _, t := range c.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("tool name is required")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool: %s", t.Name)
		}
		seen[t.Name] = true
	}
	for _, s := range c.InputShields {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("input shield: %w", err)
		}
	}
	for _, s := range c.OutputShields {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("output shield: %w", err)
		}
	}
	return nil
}

func (c AgentConfig) maxInferIters() int {
	if c.MaxInferIters <= 0 {
		return DefaultMaxInferIters
	}
	return c.MaxInferIters
}

// needsShields reports whether any shield is configured, including the
// per-tool ones
func (c AgentConfig) needsShields() bool {
	if len(c.InputShields) > 0 || len(c.OutputShields) > 0 {
		return true
	}
	for _, t := range c.Tools {
		if len(t.InputShields) > 0 || len(t.OutputShields) > 0 {
			return true
		}
	}
	return false
}

// AgentInfo summarizes a registered agent
type AgentInfo struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Model   string `json:"model,omitempty"`
	Tools   int    `json:"tools"`
}

// TurnRequest asks an agent to run one turn in a session
type TurnRequest struct {
	AgentID   string       `json:"agent_id"`
	SessionID string       `json:"session_id"`
	Messages  message.List `json:"messages"`
	// Stream enables text step_progress events for inference steps
	Stream bool `json:"stream"`
}
