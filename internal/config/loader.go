package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	dirName  = ".agentic"
	fileName = "agentic.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// envKeys are the settings that AGENTIC_ environment variables can supply
// even when no config file exists
var envKeys = []string{
	"gateway.host",
	"gateway.port",
	"gateway.shared_secret",
	"gateway.rate_limit",
	"logging.level",
	"logging.file",
	"moderation.provider",
	"moderation.api_key",
	"tracing.enabled",
	"tracing.sample_ratio",
	"engine.max_infer_iters",
	"agents_file",
	"data_dir",
}

// Load reads the config file, if present, over the defaults. Environment
// variables prefixed with AGENTIC_ override file values, e.g.
// AGENTIC_GATEWAY_PORT.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetEnvPrefix("AGENTIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, l.applyDefaults(cfg, configPath)
}

func (l *Loader) applyDefaults(cfg *Config, configPath string) error {
	// Set data directory if not specified
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "agentic.log")
	}

	if cfg.Tracing.File == "" {
		cfg.Tracing.File = filepath.Join(cfg.DataDir, "traces.jsonl")
	}

	// Resolve the agents file relative to the config file
	if cfg.AgentsFile != "" && !filepath.IsAbs(cfg.AgentsFile) {
		cfg.AgentsFile = filepath.Join(filepath.Dir(configPath), cfg.AgentsFile)
	}
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("ai", cfg.AI)
	v.Set("engine", cfg.Engine)
	v.Set("moderation", cfg.Moderation)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("gateway", cfg.Gateway)
	v.Set("agents_file", cfg.AgentsFile)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	// Config files hold API keys
	if err := os.Chmod(configPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, dirName, fileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
