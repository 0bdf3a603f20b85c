package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/agentic/internal/logger"
	"github.com/harun/agentic/pkg/inference"
)

// Config represents the main agentic configuration
type Config struct {
	// AI provider profiles, tried in priority order
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Turn engine limits
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Shield checker backing every agent's shields
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`

	// Logging
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Span export
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// AgentsFile is a YAML or JSON file of agent definitions
	AgentsFile string `json:"agents_file" mapstructure:"agents_file"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []inference.Profile `json:"profiles" mapstructure:"profiles"`
}

// EngineConfig bounds turn execution
type EngineConfig struct {
	MaxInferIters           int `json:"max_infer_iters" mapstructure:"max_infer_iters"`
	EventBuffer             int `json:"event_buffer" mapstructure:"event_buffer"`
	InferenceTimeoutSeconds int `json:"inference_timeout_seconds" mapstructure:"inference_timeout_seconds"`
	ToolTimeoutSeconds      int `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
}

// InferenceTimeout returns the per-call inference deadline
func (e EngineConfig) InferenceTimeout() time.Duration {
	return time.Duration(e.InferenceTimeoutSeconds) * time.Second
}

// ToolTimeout returns the per-call tool deadline
func (e EngineConfig) ToolTimeout() time.Duration {
	return time.Duration(e.ToolTimeoutSeconds) * time.Second
}

// ModerationConfig selects the shield checker
type ModerationConfig struct {
	Provider        string   `json:"provider" mapstructure:"provider"` // keyword, openai
	Keywords        []string `json:"keywords,omitempty" mapstructure:"keywords"`
	Patterns        []string `json:"patterns,omitempty" mapstructure:"patterns"`
	ViolationType   string   `json:"violation_type,omitempty" mapstructure:"violation_type"`
	RedirectMessage string   `json:"redirect_message" mapstructure:"redirect_message"`
	// APIKey overrides the key of the first openai profile
	APIKey string `json:"api_key,omitempty" mapstructure:"api_key"`
}

// TracingConfig controls span export. Trace ids reach logs and audit
// events whether or not spans are exported.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	// File receives spans as JSON lines; defaults to <data_dir>/traces.jsonl
	File string `json:"file,omitempty" mapstructure:"file"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	// RateLimit is the number of requests a client may make per minute
	RateLimit int `json:"rate_limit" mapstructure:"rate_limit"`
}

// Address returns host:port
func (g GatewayConfig) Address() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

const defaultRedirectMessage = "I can't answer that. Can I help with something else?"

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []inference.Profile{},
		},
		Engine: EngineConfig{
			MaxInferIters:           10,
			EventBuffer:             64,
			InferenceTimeoutSeconds: 120,
			ToolTimeoutSeconds:      30,
		},
		Moderation: ModerationConfig{
			Provider:        "keyword",
			ViolationType:   "unsafe_content",
			RedirectMessage: defaultRedirectMessage,
		},
		Logging: logger.DefaultConfig(),
		Tracing: TracingConfig{SampleRatio: 1},
		Gateway: GatewayConfig{
			Port:      8080,
			Host:      "127.0.0.1",
			RateLimit: 120,
		},
	}
}

// ModerationAPIKey returns the key used by the openai moderation checker
func (c *Config) ModerationAPIKey() string {
	if c.Moderation.APIKey != "" {
		return c.Moderation.APIKey
	}
	for _, p := range c.AI.Profiles {
		if p.Provider == "openai" {
			return p.APIKey
		}
	}
	return ""
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Engine.MaxInferIters < 0 {
		return fmt.Errorf("engine.max_infer_iters must be >= 0")
	}
	if c.Engine.EventBuffer < 0 {
		return fmt.Errorf("engine.event_buffer must be >= 0")
	}
	if c.Engine.InferenceTimeoutSeconds < 0 || c.Engine.ToolTimeoutSeconds < 0 {
		return fmt.Errorf("engine timeouts must be >= 0")
	}

	switch c.Moderation.Provider {
	case "", "keyword":
	case "openai":
		if c.ModerationAPIKey() == "" {
			return fmt.Errorf("openai moderation requires an openai profile or moderation.api_key")
		}
	default:
		return fmt.Errorf("invalid moderation provider %s (must be: keyword, openai)", c.Moderation.Provider)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	return nil
}
