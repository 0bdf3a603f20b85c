package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates an AI provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai":
		return nil
	}
	return fmt.Errorf("invalid provider: %s (must be one of: anthropic, openai)", provider)
}

// ValidateBaseURL validates an optional provider base URL
func (v *Validator) ValidateBaseURL(url string) error {
	if url == "" {
		return nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("invalid base URL %s (must start with http:// or https://)", url)
	}
	return nil
}

// ValidateMaxInferIters validates the per-turn inference budget
func (v *Validator) ValidateMaxInferIters(n int) error {
	if n < 0 {
		return fmt.Errorf("max_infer_iters must be >= 0, got %d", n)
	}
	if n > 100 {
		return fmt.Errorf("max_infer_iters too large (max 100), got %d", n)
	}
	return nil
}

// ValidateTimeout validates a timeout in seconds
func (v *Validator) ValidateTimeout(name string, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("%s must be >= 0, got %d", name, seconds)
	}
	return nil
}

// ValidatePattern checks that a moderation pattern compiles
func (v *Validator) ValidatePattern(pattern string) error {
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid moderation pattern %q: %w", pattern, err)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if err := v.ValidateProvider(profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
		if err := v.ValidateBaseURL(profile.BaseURL); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
	}

	if err := v.ValidateMaxInferIters(cfg.Engine.MaxInferIters); err != nil {
		errors = append(errors, fmt.Errorf("engine: %w", err))
	}
	if err := v.ValidateTimeout("inference_timeout_seconds", cfg.Engine.InferenceTimeoutSeconds); err != nil {
		errors = append(errors, fmt.Errorf("engine: %w", err))
	}
	if err := v.ValidateTimeout("tool_timeout_seconds", cfg.Engine.ToolTimeoutSeconds); err != nil {
		errors = append(errors, fmt.Errorf("engine: %w", err))
	}

	for _, p := range cfg.Moderation.Patterns {
		if err := v.ValidatePattern(p); err != nil {
			errors = append(errors, fmt.Errorf("moderation: %w", err))
		}
	}
	if cfg.Moderation.Provider == "keyword" && len(cfg.Moderation.Keywords) == 0 && len(cfg.Moderation.Patterns) == 0 {
		errors = append(errors, fmt.Errorf("moderation: keyword provider has no keywords or patterns"))
	}

	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, fmt.Errorf("gateway: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
