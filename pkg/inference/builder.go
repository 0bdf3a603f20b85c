package inference

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/harun/agentic/pkg/message"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var functionTagPattern = regexp.MustCompile(`(?s)^<function=([A-Za-z0-9_\-]+)>(\{.*\})</function>$`)

// Builder accumulates streamed chunks into a CompletionMessage. Add never
// modifies the receiver, so a Builder value can be kept as a snapshot.
type Builder struct {
	content string
	calls   []message.ToolCall
	stop    message.StopReason
}

// Add returns a builder that includes the chunk. Only tool call deltas with
// ParseSuccess contribute a call.
func (b Builder) Add(c Chunk) Builder {
	out := Builder{
		content: b.content + c.TextDelta,
		calls:   b.calls,
		stop:    b.stop,
	}
	if d := c.ToolCallDelta; d != nil && d.ParseStatus == message.ParseSuccess && d.ToolCall != nil {
		calls := make([]message.ToolCall, len(b.calls), len(b.calls)+1)
		copy(calls, b.calls)
		out.calls = append(calls, d.ToolCall.Clone())
	}
	if c.StopReason != "" {
		out.stop = c.StopReason
	}
	return out
}

// Content returns the text accumulated so far
func (b Builder) Content() string {
	return b.content
}

// Build produces the message. A stream that never reported a stop reason
// is treated as out of tokens. A reply that consists solely of a
// <function=NAME>{...}</function> tag becomes a tool call.
func (b Builder) Build() message.CompletionMessage {
	msg := message.CompletionMessage{
		Content:    b.content,
		StopReason: b.stop,
	}
	if msg.StopReason == "" {
		msg.StopReason = message.StopOutOfTokens
	}
	if len(b.calls) > 0 {
		msg.ToolCalls = make([]message.ToolCall, len(b.calls))
		for i, c := range b.calls {
			msg.ToolCalls[i] = c.Clone()
		}
		return msg
	}
	if call, ok := ParseFunctionTag(b.content); ok {
		msg.Content = ""
		msg.ToolCalls = []message.ToolCall{call}
	}
	return msg
}

// ParseFunctionTag extracts a tool call written in the text calling format
func ParseFunctionTag(content string) (message.ToolCall, bool) {
	m := functionTagPattern.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return message.ToolCall{}, false
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
		return message.ToolCall{}, false
	}
	return message.ToolCall{CallID: NewCallID(), ToolName: m[1], Arguments: args}, true
}

// NewCallID generates an id for tool calls the backend did not name
func NewCallID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "call_0"
	}
	return "call_" + id
}

// parseArguments decodes accumulated tool arguments. Empty input is an
// empty object.
func parseArguments(raw string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
