package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/agentic/internal/config"
	"github.com/harun/agentic/internal/logger"
	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/agent"
	"github.com/harun/agentic/pkg/inference"
	"github.com/harun/agentic/pkg/safety"
	"github.com/harun/agentic/pkg/session"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// app holds the engine built from a config file
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	logger   zerolog.Logger
	store    *session.Store
	registry *agent.Registry
}

// loadConfig reads the config file and applies the --log-level override
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newApp wires logging, tracing, the provider chain, the shield checker and
// the agent registry, then registers every agent definition.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	base := l.Zerolog()

	if err := initTracing(cfg); err != nil {
		base.Warn().Err(err).Msg("Span export disabled")
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		base.Warn().Err(err).Msg("Audit log disabled")
	}

	checker, err := newChecker(cfg)
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	store := session.New(session.Config{Logger: l.Component("session")})
	registry, err := agent.NewRegistry(agent.Config{
		Store: store,
		Provider: inference.NewFailover(inference.FailoverConfig{
			Profiles: cfg.AI.Profiles,
			Logger:   l.Component("inference"),
		}),
		Checker:          checker,
		Logger:           l.Component("agent"),
		EventBuffer:      cfg.Engine.EventBuffer,
		InferenceTimeout: cfg.Engine.InferenceTimeout(),
		ToolTimeout:      cfg.Engine.ToolTimeout(),
	})
	if err != nil {
		_ = store.Close()
		_ = l.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      l,
		logger:   base,
		store:    store,
		registry: registry,
	}
	if err := a.registerAgents(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// initTracing installs the tracer provider, exporting spans to a rotated
// file when enabled
func initTracing(cfg *config.Config) error {
	tc := tracing.Config{
		ServiceName:    "agentic",
		ServiceVersion: version,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}
	if cfg.Tracing.Enabled && cfg.Tracing.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Tracing.File), 0755); err != nil {
			_ = tracing.InitOpenTelemetry(tc)
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
		tc.Exporter = &lumberjack.Logger{Filename: cfg.Tracing.File, MaxSize: 100, MaxAge: 7}
	}
	return tracing.InitOpenTelemetry(tc)
}

// newChecker builds the shield checker named by the moderation config
func newChecker(cfg *config.Config) (safety.Checker, error) {
	redirect := cfg.Moderation.RedirectMessage
	switch cfg.Moderation.Provider {
	case "openai":
		return safety.NewOpenAIModerationChecker(cfg.ModerationAPIKey(), redirect), nil
	default:
		checker, err := safety.NewKeywordChecker(safety.KeywordConfig{
			Keywords:        cfg.Moderation.Keywords,
			Patterns:        cfg.Moderation.Patterns,
			ViolationType:   cfg.Moderation.ViolationType,
			RedirectMessage: redirect,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid moderation config: %w", err)
		}
		return checker, nil
	}
}

// definitions returns the agent definitions from the configured file
func definitions(cfg *config.Config) ([]agent.AgentConfig, error) {
	if cfg.AgentsFile == "" {
		return []agent.AgentConfig{agent.DefaultConfig()}, nil
	}
	return agent.LoadDefinitions(cfg.AgentsFile)
}

func (a *app) registerAgents(ctx context.Context) error {
	defs, err := definitions(a.cfg)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.MaxInferIters == 0 {
			def.MaxInferIters = a.cfg.Engine.MaxInferIters
		}
		if _, err := a.registry.CreateAgent(ctx, def); err != nil {
			return fmt.Errorf("agent %s: %w", def.Name, err)
		}
	}
	return nil
}

// Close stops running turns and releases the engine's resources
func (a *app) Close() {
	_ = a.registry.Close()
	_ = a.store.Close()
	_ = tracing.ShutdownOpenTelemetry(context.Background())
	_ = a.log.Close()
}
