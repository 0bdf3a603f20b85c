package agent

import (
	"encoding/json"
	"fmt"

	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/turn"
)

// EventType identifies a turn lifecycle event
type EventType string

const (
	EventTurnStart    EventType = "turn_start"
	EventStepStart    EventType = "step_start"
	EventStepProgress EventType = "step_progress"
	EventStepComplete EventType = "step_complete"
	EventTurnComplete EventType = "turn_complete"
)

// Event is one entry of the turn stream
type Event interface {
	EventType() EventType
	isEvent()
}

// TurnStart opens the stream
type TurnStart struct {
	TurnID string `json:"turn_id"`
}

// StepStart opens a step
type StepStart struct {
	StepType turn.StepType     `json:"step_type"`
	StepID   string            `json:"step_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StepProgress carries a streamed fragment of the open step
type StepProgress struct {
	StepType      turn.StepType          `json:"step_type"`
	StepID        string                 `json:"step_id"`
	TextDelta     string                 `json:"model_response_text_delta,omitempty"`
	ToolCallDelta *message.ToolCallDelta `json:"tool_call_delta,omitempty"`
	ToolCall      *message.ToolCall      `json:"tool_call,omitempty"`
}

// StepComplete closes a step with its final record
type StepComplete struct {
	StepType turn.StepType `json:"step_type"`
	StepID   string        `json:"step_id"`
	Step     turn.Step     `json:"step_details"`
}

// TurnComplete closes the stream with the recorded turn
type TurnComplete struct {
	Turn turn.Turn `json:"turn"`
}

func (TurnStart) EventType() EventType    { return EventTurnStart }
func (StepStart) EventType() EventType    { return EventStepStart }
func (StepProgress) EventType() EventType { return EventStepProgress }
func (StepComplete) EventType() EventType { return EventStepComplete }
func (TurnComplete) EventType() EventType { return EventTurnComplete }

func (TurnStart) isEvent()    {}
func (StepStart) isEvent()    {}
func (StepProgress) isEvent() {}
func (StepComplete) isEvent() {}
func (TurnComplete) isEvent() {}

// MarshalEvent encodes an event with its event_type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		EventType EventType       `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}{e.EventType(), payload})
}

// UnmarshalEvent decodes an event produced by MarshalEvent
func UnmarshalEvent(data []byte) (Event, error) {
	var envelope struct {
		EventType EventType       `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	switch envelope.EventType {
	case EventTurnStart:
		var e TurnStart
		err := json.Unmarshal(envelope.Payload, &e)
		return e, err
	case EventStepStart:
		var e StepStart
		err := json.Unmarshal(envelope.Payload, &e)
		return e, err
	case EventStepProgress:
		var e StepProgress
		err := json.Unmarshal(envelope.Payload, &e)
		return e, err
	case EventStepComplete:
		var raw struct {
			StepType turn.StepType   `json:"step_type"`
			StepID   string          `json:"step_id"`
			Step     json.RawMessage `json:"step_details"`
		}
		if err := json.Unmarshal(envelope.Payload, &raw); err != nil {
			return nil, err
		}
		step, err := turn.UnmarshalStep(raw.Step)
		if err != nil {
			return nil, err
		}
		return StepComplete{StepType: raw.StepType, StepID: raw.StepID, Step: step}, nil
	case EventTurnComplete:
		var e TurnComplete
		err := json.Unmarshal(envelope.Payload, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown event type: %q", envelope.EventType)
	}
}
