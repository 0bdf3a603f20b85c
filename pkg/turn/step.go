package turn

import (
	"time"

	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/safety"
)

// StepType identifies the kind of work a step recorded
type StepType string

const (
	StepInference     StepType = "inference"
	StepToolExecution StepType = "tool_execution"
	StepShieldCall    StepType = "shield_call"
)

// StepHeader carries the fields shared by every step
type StepHeader struct {
	TurnID      string    `json:"turn_id"`
	StepID      string    `json:"step_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Step is one unit of work inside a turn
type Step interface {
	Type() StepType
	Header() StepHeader
	isStep()
}

// InferenceStep records one model call
type InferenceStep struct {
	StepHeader
	ModelResponse message.CompletionMessage `json:"model_response"`
}

// ToolExecutionStep records one builtin tool round trip
type ToolExecutionStep struct {
	StepHeader
	ToolCalls     []message.ToolCall            `json:"tool_calls"`
	ToolResponses []message.ToolResponseMessage `json:"tool_responses"`
}

// ShieldCallStep records a shield gate and its verdict
type ShieldCallStep struct {
	StepHeader
	Response safety.Verdict `json:"response"`
}

func (InferenceStep) Type() StepType     { return StepInference }
func (ToolExecutionStep) Type() StepType { return StepToolExecution }
func (ShieldCallStep) Type() StepType    { return StepShieldCall }

func (s InferenceStep) Header() StepHeader     { return s.StepHeader }
func (s ToolExecutionStep) Header() StepHeader { return s.StepHeader }
func (s ShieldCallStep) Header() StepHeader    { return s.StepHeader }

func (InferenceStep) isStep()     {}
func (ToolExecutionStep) isStep() {}
func (ShieldCallStep) isStep()    {}

// IsViolation reports whether the shield blocked the turn
func (s ShieldCallStep) IsViolation() bool {
	return s.Response.IsViolation
}

func cloneStep(s Step) Step {
	switch v := s.(type) {
	case InferenceStep:
		v.ModelResponse = v.ModelResponse.Clone()
		return v
	case ToolExecutionStep:
		v.ToolCalls = message.CloneCalls(v.ToolCalls)
		if v.ToolResponses != nil {
			v.ToolResponses = append([]message.ToolResponseMessage(nil), v.ToolResponses...)
		}
		return v
	case ShieldCallStep:
		if v.Response.Metadata != nil {
			md := make(map[string]string, len(v.Response.Metadata))
			for k, val := range v.Response.Metadata {
				md[k] = val
			}
			v.Response.Metadata = md
		}
		return v
	default:
		return s
	}
}
