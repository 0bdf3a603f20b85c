package turn

import (
	"encoding/json"
	"fmt"
)

// StepList is an ordered set of steps that decodes its tagged variants
type StepList []Step

func (s InferenceStep) MarshalJSON() ([]byte, error) {
	type plain InferenceStep
	return json.Marshal(struct {
		StepType StepType `json:"step_type"`
		plain
	}{StepInference, plain(s)})
}

func (s ToolExecutionStep) MarshalJSON() ([]byte, error) {
	type plain ToolExecutionStep
	return json.Marshal(struct {
		StepType StepType `json:"step_type"`
		plain
	}{StepToolExecution, plain(s)})
}

func (s ShieldCallStep) MarshalJSON() ([]byte, error) {
	type plain ShieldCallStep
	return json.Marshal(struct {
		StepType StepType `json:"step_type"`
		plain
	}{StepShieldCall, plain(s)})
}

// UnmarshalStep decodes a single step using its step_type field
func UnmarshalStep(data []byte) (Step, error) {
	var probe struct {
		StepType StepType `json:"step_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.StepType {
	case StepInference:
		var s InferenceStep
		err := json.Unmarshal(data, &s)
		return s, err
	case StepToolExecution:
		var s ToolExecutionStep
		err := json.Unmarshal(data, &s)
		return s, err
	case StepShieldCall:
		var s ShieldCallStep
		err := json.Unmarshal(data, &s)
		return s, err
	case "":
		return nil, fmt.Errorf("step type is required")
	default:
		return nil, fmt.Errorf("unknown step type: %s", probe.StepType)
	}
}

// UnmarshalJSON implements json.Unmarshaler
func (l *StepList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(StepList, 0, len(raw))
	for i, r := range raw {
		s, err := UnmarshalStep(r)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, s)
	}
	*l = out
	return nil
}
