package safety

import (
	"context"
	"fmt"

	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/message"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Config holds Runner dependencies
type Config struct {
	Checker Checker
	Logger  zerolog.Logger
	Audit   *observability.AuditLogger
}

// Runner applies shield definitions through a Checker
type Runner struct {
	checker Checker
	logger  zerolog.Logger
	audit   *observability.AuditLogger
}

// NewRunner creates a shield runner
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Checker == nil {
		return nil, fmt.Errorf("checker is required")
	}
	audit := cfg.Audit
	if audit == nil {
		audit = observability.GetAuditLogger()
	}
	return &Runner{
		checker: cfg.Checker,
		logger:  cfg.Logger,
		audit:   audit,
	}, nil
}

// RunShields checks msgs against every shield. Checks run concurrently and
// verdicts are evaluated in definition order, so the first RAISE shield that
// reports a violation wins.
func (r *Runner) RunShields(ctx context.Context, msgs []message.Message, shields []ShieldDefinition) ([]Verdict, error) {
	if len(shields) == 0 {
		return nil, nil
	}

	ctx, span := tracing.StartSpan(ctx, "agentic.safety", "safety.run_shields",
		attribute.Int("shield.count", len(shields)),
		attribute.Int("message.count", len(msgs)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	dialog := coerceFirstToUser(msgs)

	verdicts := make([]Verdict, len(shields))
	g, gctx := errgroup.WithContext(ctx)
	for i, shield := range shields {
		g.Go(func() error {
			v, err := r.checker.Check(gctx, dialog, shield)
			if err != nil {
				return fmt.Errorf("%w: shield %s: %w", ErrCheckerUnavailable, shield.ShieldType, err)
			}
			if v.ShieldType == "" {
				v.ShieldType = shield.ShieldType
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracing.FailSpan(span, err, "shield check failed")
		logger.Error().Err(err).Msg("Shield check failed")
		return nil, err
	}

	for i, shield := range shields {
		v := verdicts[i]
		observability.RecordShieldVerdict(v.ShieldType, v.IsViolation)
		if !v.IsViolation {
			continue
		}

		meta := map[string]interface{}{
			"violation_type": v.ViolationType,
			"action":         string(shield.Action()),
		}
		switch shield.Action() {
		case ActionWarn:
			logger.Warn().
				Str("shield_type", v.ShieldType).
				Str("violation_type", v.ViolationType).
				Msg("Shield raised a warning")
			r.audit.Shield(ctx, v.ShieldType, "warning", meta)
		default:
			logger.Info().
				Str("shield_type", v.ShieldType).
				Str("violation_type", v.ViolationType).
				Msg("Shield violation")
			r.audit.Shield(ctx, v.ShieldType, "violation", meta)
			span.SetAttributes(attribute.String("shield.violation", v.ShieldType))
			return verdicts, &SafetyError{Verdict: v}
		}
	}

	return verdicts, nil
}

// coerceFirstToUser returns msgs with the first entry re-labelled as user
// input. Some checkers reject dialogs that start with a tool response.
func coerceFirstToUser(msgs []message.Message) []message.Message {
	if len(msgs) == 0 || msgs[0].Role() == message.RoleUser {
		return msgs
	}
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	out[0] = message.AsUser(msgs[0])
	return out
}
