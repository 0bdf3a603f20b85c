package safety

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/agentic/pkg/message"
)

// OnViolationAction decides what a violation does to the turn
type OnViolationAction string

const (
	// ActionRaise aborts the turn. The zero value behaves as ActionRaise.
	ActionRaise OnViolationAction = "raise"
	// ActionWarn logs the violation and lets the turn continue
	ActionWarn OnViolationAction = "warn"
)

// ShieldDefinition configures one shield
type ShieldDefinition struct {
	ShieldType  string                 `json:"shield_type" yaml:"shield_type" mapstructure:"shield_type"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	OnViolation OnViolationAction      `json:"on_violation_action,omitempty" yaml:"on_violation_action,omitempty" mapstructure:"on_violation_action"`
	Parameters  map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
}

// Action returns the effective violation action
func (d ShieldDefinition) Action() OnViolationAction {
	if d.OnViolation == ActionWarn {
		return ActionWarn
	}
	return ActionRaise
}

// Validate checks the definition
func (d ShieldDefinition) Validate() error {
	if d.ShieldType == "" {
		return fmt.Errorf("shield type is required")
	}
	switch d.OnViolation {
	case "", ActionRaise, ActionWarn:
		return nil
	default:
		return fmt.Errorf("shield %s: invalid on_violation_action %q", d.ShieldType, d.OnViolation)
	}
}

// Verdict is the result of one shield check
type Verdict struct {
	ShieldType             string            `json:"shield_type"`
	IsViolation            bool              `json:"is_violation"`
	ViolationType          string            `json:"violation_type,omitempty"`
	ViolationReturnMessage string            `json:"violation_return_message,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

// Pass returns a non-violating verdict for a shield type
func Pass(shieldType string) Verdict {
	return Verdict{ShieldType: shieldType}
}

// Checker is the safety-check capability consulted for each shield
type Checker interface {
	Check(ctx context.Context, msgs []message.Message, shield ShieldDefinition) (Verdict, error)
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context, msgs []message.Message, shield ShieldDefinition) (Verdict, error)

// Check implements Checker
func (f CheckerFunc) Check(ctx context.Context, msgs []message.Message, shield ShieldDefinition) (Verdict, error) {
	return f(ctx, msgs, shield)
}

// Mux routes each shield to the checker registered for its type
type Mux map[string]Checker

// Check implements Checker
func (m Mux) Check(ctx context.Context, msgs []message.Message, shield ShieldDefinition) (Verdict, error) {
	c, ok := m[shield.ShieldType]
	if !ok {
		return Verdict{}, fmt.Errorf("no checker for shield type: %s", shield.ShieldType)
	}
	return c.Check(ctx, msgs, shield)
}

// ErrCheckerUnavailable marks a failure to reach the safety capability
var ErrCheckerUnavailable = errors.New("safety checker unavailable")

// SafetyError is returned when a RAISE shield reports a violation
type SafetyError struct {
	Verdict Verdict
}

func (e *SafetyError) Error() string {
	return e.Verdict.ViolationReturnMessage
}
