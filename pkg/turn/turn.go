package turn

import (
	"time"

	"github.com/harun/agentic/pkg/message"
)

// Status is how a turn ended
type Status string

const (
	StatusCompleted Status = "completed"
	// StatusAborted marks a turn cut short by a shield violation. The turn
	// is still well formed and carries the redirect as its output.
	StatusAborted Status = "aborted"
)

// Turn is one user request and everything the engine did to answer it
type Turn struct {
	TurnID        string                    `json:"turn_id"`
	SessionID     string                    `json:"session_id"`
	InputMessages message.List              `json:"input_messages"`
	Steps         StepList                  `json:"steps"`
	OutputMessage message.CompletionMessage `json:"output_message"`
	Status        Status                    `json:"status"`
	StartedAt     time.Time                 `json:"started_at"`
	CompletedAt   time.Time                 `json:"completed_at"`
}

// Session is an ordered history of turns with one agent
type Session struct {
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name"`
	AgentID     string    `json:"agent_id"`
	Turns       []Turn    `json:"turns"`
	StartedAt   time.Time `json:"started_at"`
}

// Clone returns a copy that shares no storage with the session, so it can
// be read and modified without holding the store lock.
func (s Session) Clone() Session {
	out := s
	if s.Turns != nil {
		out.Turns = make([]Turn, len(s.Turns))
		for i, t := range s.Turns {
			out.Turns[i] = t.Clone()
		}
	}
	return out
}

// Clone deep copies the turn down to tool call arguments
func (t Turn) Clone() Turn {
	out := t
	out.InputMessages = t.InputMessages.Clone()
	out.OutputMessage = t.OutputMessage.Clone()
	if t.Steps != nil {
		out.Steps = make(StepList, len(t.Steps))
		for i, st := range t.Steps {
			out.Steps[i] = cloneStep(st)
		}
	}
	return out
}

// Violations returns the shield steps that blocked the turn
func (t Turn) Violations() []ShieldCallStep {
	var out []ShieldCallStep
	for _, s := range t.Steps {
		if sc, ok := s.(ShieldCallStep); ok && sc.IsViolation() {
			out = append(out, sc)
		}
	}
	return out
}

// InferenceCount returns the number of model calls in the turn
func (t Turn) InferenceCount() int {
	n := 0
	for _, s := range t.Steps {
		if s.Type() == StepInference {
			n++
		}
	}
	return n
}
