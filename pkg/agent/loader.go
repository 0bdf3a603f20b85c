package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Definitions is the agent definition file layout
type Definitions struct {
	Agents []AgentConfig `json:"agents"`
}

// LoadDefinitions loads agent configurations from a JSON or YAML file and
// validates them
func LoadDefinitions(path string) ([]AgentConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("definitions file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("definitions file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}

	var defs Definitions
	switch ext := filepath.Ext(path); ext {
	case ".json":
		defs, err = ParseDefinitionsJSON(data)
	case ".yaml", ".yml":
		defs, err = ParseDefinitionsYAML(data)
	default:
		return nil, fmt.Errorf("unsupported definitions format: %s (supported: .json, .yaml, .yml)", ext)
	}
	if err != nil {
		return nil, err
	}

	if err := ValidateDefinitions(defs.Agents); err != nil {
		return nil, err
	}
	return defs.Agents, nil
}

// ParseDefinitionsJSON decodes a JSON definitions document
func ParseDefinitionsJSON(data []byte) (Definitions, error) {
	var defs Definitions
	if err := json.Unmarshal(data, &defs); err != nil {
		return Definitions{}, fmt.Errorf("failed to parse JSON definitions: %w", err)
	}
	return defs, nil
}

// ParseDefinitionsYAML decodes a YAML definitions document. The document
// is converted to JSON first so messages and shields decode through their
// JSON codecs.
func ParseDefinitionsYAML(data []byte) (Definitions, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Definitions{}, fmt.Errorf("failed to parse YAML definitions: %w", err)
	}
	if doc == nil {
		return Definitions{}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Definitions{}, fmt.Errorf("failed to convert YAML definitions: %w", err)
	}
	return ParseDefinitionsJSON(raw)
}

// ValidateDefinitions checks each configuration and rejects duplicate names
func ValidateDefinitions(configs []AgentConfig) error {
	if len(configs) == 0 {
		return fmt.Errorf("no agent definitions found")
	}

	seen := make(map[string]bool, len(configs))
	for i, cfg := range configs {
		if cfg.Name == "" {
			return fmt.Errorf("agent definition at index %d has no name", i)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("agent definition %s is invalid: %w", cfg.Name, err)
		}
		if seen[cfg.Name] {
			return fmt.Errorf("duplicate agent name: %s", cfg.Name)
		}
		seen[cfg.Name] = true
	}
	return nil
}
