package agent

import (
	"errors"
	"fmt"

	"github.com/harun/agentic/pkg/turn"
)

// ErrIncompleteStream is returned for a stream that ended before
// turn_complete, as an abandoned or failed turn does
var ErrIncompleteStream = errors.New("event stream ended before turn_complete")

// ValidateEventSequence checks the ordering grammar of one turn's events:
//
//	turn_start (step_start step_progress* step_complete)* turn_complete
//
// with every step contiguous and its events agreeing on step id and type.
func ValidateEventSequence(events []Event) error {
	_, err := parseEvents(events)
	return err
}

// ReconstructTurn rebuilds a Turn from its event stream. Steps come from
// the step_complete events and must agree with the turn_complete record.
func ReconstructTurn(events []Event) (turn.Turn, error) {
	parsed, err := parseEvents(events)
	if err != nil {
		return turn.Turn{}, err
	}

	final := parsed.complete.Turn
	if len(final.Steps) != len(parsed.steps) {
		return turn.Turn{}, fmt.Errorf("turn_complete has %d steps, stream has %d", len(final.Steps), len(parsed.steps))
	}
	for i, step := range parsed.steps {
		got := final.Steps[i]
		if got.Type() != step.Type() || got.Header().StepID != step.Header().StepID {
			return turn.Turn{}, fmt.Errorf("step %d: turn_complete has %s %s, stream has %s %s",
				i, got.Type(), got.Header().StepID, step.Type(), step.Header().StepID)
		}
	}

	return turn.Turn{
		TurnID:        parsed.turnID,
		SessionID:     final.SessionID,
		InputMessages: final.InputMessages,
		Steps:         turn.StepList(parsed.steps),
		OutputMessage: final.OutputMessage,
		Status:        final.Status,
		StartedAt:     final.StartedAt,
		CompletedAt:   final.CompletedAt,
	}, nil
}

type parsedStream struct {
	turnID   string
	steps    []turn.Step
	complete TurnComplete
}

func parseEvents(events []Event) (parsedStream, error) {
	var (
		out      parsedStream
		started  bool
		finished bool
		open     *StepStart
		seen     = make(map[string]bool)
	)

	for i, ev := range events {
		if finished {
			return out, fmt.Errorf("event %d: %s after turn_complete", i, ev.EventType())
		}
		if !started {
			ts, ok := ev.(TurnStart)
			if !ok {
				return out, fmt.Errorf("event %d: expected turn_start, got %s", i, ev.EventType())
			}
			out.turnID = ts.TurnID
			started = true
			continue
		}

		switch e := ev.(type) {
		case TurnStart:
			return out, fmt.Errorf("event %d: duplicate turn_start", i)

		case StepStart:
			if open != nil {
				return out, fmt.Errorf("event %d: step %s started while %s is open", i, e.StepID, open.StepID)
			}
			if seen[e.StepID] {
				return out, fmt.Errorf("event %d: step %s started twice", i, e.StepID)
			}
			seen[e.StepID] = true
			s := e
			open = &s

		case StepProgress:
			if open == nil {
				return out, fmt.Errorf("event %d: step_progress outside a step", i)
			}
			if e.StepID != open.StepID || e.StepType != open.StepType {
				return out, fmt.Errorf("event %d: progress for %s %s inside %s %s", i, e.StepType, e.StepID, open.StepType, open.StepID)
			}

		case StepComplete:
			if open == nil {
				return out, fmt.Errorf("event %d: step_complete outside a step", i)
			}
			if e.StepID != open.StepID || e.StepType != open.StepType {
				return out, fmt.Errorf("event %d: completion for %s %s inside %s %s", i, e.StepType, e.StepID, open.StepType, open.StepID)
			}
			if e.Step == nil {
				return out, fmt.Errorf("event %d: step_complete without step details", i)
			}
			if e.Step.Type() != e.StepType || e.Step.Header().StepID != e.StepID {
				return out, fmt.Errorf("event %d: step details do not match step %s", i, e.StepID)
			}
			if e.Step.Header().TurnID != out.turnID {
				return out, fmt.Errorf("event %d: step %s belongs to turn %s", i, e.StepID, e.Step.Header().TurnID)
			}
			out.steps = append(out.steps, e.Step)
			open = nil

		case TurnComplete:
			if open != nil {
				return out, fmt.Errorf("event %d: turn_complete while step %s is open", i, open.StepID)
			}
			if e.Turn.TurnID != out.turnID {
				return out, fmt.Errorf("event %d: turn_complete for %s, stream is %s", i, e.Turn.TurnID, out.turnID)
			}
			out.complete = e
			finished = true

		default:
			return out, fmt.Errorf("event %d: unknown event %T", i, ev)
		}
	}

	if !finished {
		return out, ErrIncompleteStream
	}
	return out, nil
}
