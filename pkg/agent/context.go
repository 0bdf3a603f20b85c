package agent

import (
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/toolexecutor"
	"github.com/harun/agentic/pkg/turn"
)

// ReplayHistory flattens prior turns into the messages the model saw and
// produced. Violating shield steps come back as the redirect the user got.
func ReplayHistory(turns []turn.Turn) []message.Message {
	var out []message.Message
	for _, t := range turns {
		out = append(out, t.InputMessages...)
		for _, step := range t.Steps {
			switch s := step.(type) {
			case turn.InferenceStep:
				out = append(out, s.ModelResponse)
			case turn.ToolExecutionStep:
				for _, r := range s.ToolResponses {
					out = append(out, r)
				}
			case turn.ShieldCallStep:
				if s.IsViolation() {
					out = append(out, message.CompletionMessage{
						Content:    s.Response.ViolationReturnMessage,
						StopReason: message.StopEndOfTurn,
					})
				}
			}
		}
	}
	return out
}

// preprocessDialog prepares the model context. Caller system messages are
// dropped in favour of the prefix, and every attachment is announced with a
// file marker ahead of the message that carries it.
func preprocessDialog(msgs []message.Message, prefix []message.Message) []message.Message {
	out := make([]message.Message, 0, len(prefix)+len(msgs))
	out = append(out, prefix...)

	for _, m := range msgs {
		if m.Role() == message.RoleSystem {
			continue
		}
		for _, a := range message.AttachmentsOf(m) {
			if marker, ok := attachmentMessage(a); ok {
				out = append(out, marker)
			}
		}
		out = append(out, m)
	}
	return out
}

func attachmentMessage(a message.Attachment) (message.ToolResponseMessage, bool) {
	path, ok := a.FilePath()
	if !ok {
		return message.ToolResponseMessage{}, false
	}
	return message.ToolResponseMessage{
		CallID:   "",
		ToolName: string(toolexecutor.CodeInterpreter),
		Content:  message.FileMarker(path),
	}, true
}
