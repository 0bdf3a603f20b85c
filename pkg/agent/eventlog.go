package agent

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/turn"
	"github.com/rs/zerolog"
)

// EventLogger renders a turn's events for a terminal. Every event is also
// logged at debug level.
type EventLogger struct {
	out    io.Writer
	logger zerolog.Logger

	inText   bool
	streamed bool
}

// NewEventLogger creates an EventLogger writing to out
func NewEventLogger(out io.Writer, logger zerolog.Logger) *EventLogger {
	return &EventLogger{out: out, logger: logger}
}

// Log renders one event
func (l *EventLogger) Log(ev Event) {
	l.debug(ev)

	switch e := ev.(type) {
	case StepStart:
		if e.StepType == turn.StepInference {
			l.line("")
			fmt.Fprintf(l.out, "%s> ", e.StepType)
			l.inText = true
			l.streamed = false
		}

	case StepProgress:
		switch {
		case e.TextDelta != "":
			fmt.Fprint(l.out, e.TextDelta)
			l.streamed = true
		case e.ToolCallDelta != nil && e.ToolCallDelta.Content != "":
			fmt.Fprint(l.out, e.ToolCallDelta.Content)
			l.streamed = true
		}

	case StepComplete:
		l.complete(e)

	case TurnComplete:
		l.line("")
	}
}

// LogCustomTool renders the client-side answer to a custom tool call
func (l *EventLogger) LogCustomTool(resp message.ToolResponseMessage) {
	l.line("")
	fmt.Fprintf(l.out, "CustomTool> %s\n", resp.Content)
}

func (l *EventLogger) complete(e StepComplete) {
	switch s := e.Step.(type) {
	case turn.InferenceStep:
		// unstreamed turns only see the finished message
		if !l.streamed {
			fmt.Fprint(l.out, s.ModelResponse.Content)
			for _, c := range s.ModelResponse.ToolCalls {
				args, _ := json.Marshal(c.Arguments)
				fmt.Fprintf(l.out, "<function=%s>%s</function>", c.ToolName, args)
			}
		}
		l.line("")

	case turn.ToolExecutionStep:
		l.line("")
		for _, c := range s.ToolCalls {
			args, _ := json.Marshal(c.Arguments)
			fmt.Fprintf(l.out, "%s> Tool:%s Args:%s\n", e.StepType, c.ToolName, args)
		}
		for _, r := range s.ToolResponses {
			fmt.Fprintf(l.out, "%s> Tool:%s Response:%s\n", e.StepType, r.ToolName, r.Content)
		}

	case turn.ShieldCallStep:
		l.line("")
		if !s.IsViolation() {
			fmt.Fprintf(l.out, "%s> No Violation\n", e.StepType)
			return
		}
		fmt.Fprintf(l.out, "%s> %s %s\n", e.StepType, s.Response.ViolationType, s.Response.ViolationReturnMessage)
	}
}

// line ends an open text line
func (l *EventLogger) line(s string) {
	if l.inText {
		fmt.Fprintln(l.out)
		l.inText = false
	}
	if s != "" {
		fmt.Fprintln(l.out, s)
	}
}

func (l *EventLogger) debug(ev Event) {
	e := l.logger.Debug().Str("event_type", string(ev.EventType()))
	switch v := ev.(type) {
	case TurnStart:
		e = e.Str("turn_id", v.TurnID)
	case StepStart:
		e = e.Str("step_type", string(v.StepType)).Str("step_id", v.StepID)
		if tp, ok := v.Metadata["touchpoint"]; ok {
			e = e.Str("touchpoint", tp)
		}
	case StepProgress:
		e = e.Str("step_type", string(v.StepType)).Str("step_id", v.StepID)
	case StepComplete:
		e = e.Str("step_type", string(v.StepType)).Str("step_id", v.StepID)
	case TurnComplete:
		e = e.Str("turn_id", v.Turn.TurnID).
			Str("status", string(v.Turn.Status)).
			Int("steps", len(v.Turn.Steps))
	}
	e.Msg("Turn event")
}
