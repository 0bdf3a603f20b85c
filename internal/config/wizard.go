package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/harun/agentic/pkg/inference"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const secretLength = 32

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Agentic Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Fprintln(w.out, "API Keys (at least one is required):")
	fmt.Fprintln(w.out)

	providers := []struct {
		id, label, model string
	}{
		{"anthropic", "Anthropic", "claude-sonnet-4-20250514"},
		{"openai", "OpenAI", "gpt-4o-mini"},
	}
	for _, p := range providers {
		for {
			key, err := w.prompt(fmt.Sprintf("%s API Key (press Enter to skip): ", p.label))
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			if err := validator.ValidateAPIKey(key, p.id); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.AI.Profiles = append(cfg.AI.Profiles, inference.Profile{
				ID:       p.id,
				Provider: p.id,
				APIKey:   key,
				Model:    p.model,
				Priority: len(cfg.AI.Profiles),
			})
			break
		}
	}

	if len(cfg.AI.Profiles) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}

	fmt.Fprintln(w.out)

	// Moderation
	fmt.Fprintln(w.out, "Moderation options:")
	fmt.Fprintln(w.out, "  keyword - Block configured keywords and patterns (default)")
	fmt.Fprintln(w.out, "  openai  - Use the OpenAI moderation endpoint")
	provider, err := w.prompt("Moderation provider [keyword]: ")
	if err != nil {
		return nil, err
	}
	switch provider {
	case "", "keyword":
		cfg.Moderation.Provider = "keyword"
		words, err := w.prompt("Blocked keywords (comma separated): ")
		if err != nil {
			return nil, err
		}
		for _, word := range strings.Split(words, ",") {
			if word = strings.TrimSpace(word); word != "" {
				cfg.Moderation.Keywords = append(cfg.Moderation.Keywords, word)
			}
		}
	case "openai":
		cfg.Moderation.Provider = "openai"
	default:
		fmt.Fprintf(w.out, "Warning: unknown moderation provider %s, using default (keyword)\n", provider)
	}

	fmt.Fprintln(w.out)

	// Gateway
	port, err := w.prompt(fmt.Sprintf("Gateway port [%d]: ", cfg.Gateway.Port))
	if err != nil {
		return nil, err
	}
	if port != "" {
		n, convErr := strconv.Atoi(port)
		if convErr == nil {
			convErr = validator.ValidatePort(n)
		}
		if convErr != nil {
			fmt.Fprintf(w.out, "Warning: invalid port %s, using default (%d)\n", port, cfg.Gateway.Port)
		} else {
			cfg.Gateway.Port = n
		}
	}

	secret, err := gonanoid.New(secretLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate gateway secret: %w", err)
	}
	cfg.Gateway.SharedSecret = secret
	fmt.Fprintln(w.out, "Generated gateway shared secret (stored in the config file)")

	agentsFile, err := w.prompt("Agent definitions file [agents.yaml]: ")
	if err != nil {
		return nil, err
	}
	if agentsFile == "" {
		agentsFile = "agents.yaml"
	}
	cfg.AgentsFile = agentsFile

	fmt.Fprintln(w.out)

	// Log Level
	level, err := w.prompt("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) prompt(label string) (string, error) {
	fmt.Fprint(w.out, label)
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
