package message

import (
	"fmt"
	"strings"
)

// Role identifies who produced a message
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleIPython   Role = "ipython"
)

// StopReason explains why the model stopped generating
type StopReason string

const (
	// StopEndOfTurn is a natural end of the assistant turn
	StopEndOfTurn StopReason = "end_of_turn"
	// StopEndOfMessage signals a partial message that expects continuation
	StopEndOfMessage StopReason = "end_of_message"
	// StopOutOfTokens means the generation budget was exhausted
	StopOutOfTokens StopReason = "out_of_tokens"
)

// Attachment references out-of-band content such as a generated file
type Attachment struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type"`
}

// FilePath returns the local path for file:// attachments
func (a Attachment) FilePath() (string, bool) {
	if !strings.HasPrefix(a.URI, "file://") {
		return "", false
	}
	return strings.TrimPrefix(a.URI, "file://"), true
}

// FileMarker is the text placed in model context in place of a file
func FileMarker(path string) string {
	return fmt.Sprintf("# There is a file accessible to you at \"%s\"", path)
}

// ToolCall is a model-issued request to run a tool
type ToolCall struct {
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ParseStatus tracks how far a streamed tool call has been parsed
type ParseStatus string

const (
	ParseStarted    ParseStatus = "started"
	ParseInProgress ParseStatus = "in_progress"
	ParseFailure    ParseStatus = "failure"
	ParseSuccess    ParseStatus = "success"
)

// ToolCallDelta is a streamed fragment of a tool call. ToolCall is set once
// ParseStatus reaches ParseSuccess.
type ToolCallDelta struct {
	Content     string      `json:"content,omitempty"`
	ToolCall    *ToolCall   `json:"tool_call,omitempty"`
	ParseStatus ParseStatus `json:"parse_status"`
}

// Message is one utterance in a conversation
type Message interface {
	Role() Role
	Text() string
	isMessage()
}

// UserMessage carries user input and optional attachments
type UserMessage struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SystemMessage carries instructions placed ahead of the dialog
type SystemMessage struct {
	Content string `json:"content"`
}

// CompletionMessage is the model output for one inference call
type CompletionMessage struct {
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	StopReason  StopReason   `json:"stop_reason"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ToolResponseMessage is the output of a tool tied to the originating call
type ToolResponseMessage struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
}

func (UserMessage) Role() Role         { return RoleUser }
func (SystemMessage) Role() Role       { return RoleSystem }
func (CompletionMessage) Role() Role   { return RoleAssistant }
func (ToolResponseMessage) Role() Role { return RoleIPython }

func (m UserMessage) Text() string         { return m.Content }
func (m SystemMessage) Text() string       { return m.Content }
func (m CompletionMessage) Text() string   { return m.Content }
func (m ToolResponseMessage) Text() string { return m.Content }

func (UserMessage) isMessage()         {}
func (SystemMessage) isMessage()       {}
func (CompletionMessage) isMessage()   {}
func (ToolResponseMessage) isMessage() {}

// HasToolCalls reports whether the model asked for a tool
func (m CompletionMessage) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// FirstToolCall returns the only tool call the engine acts on. Any further
// calls in the same response are ignored.
func (m CompletionMessage) FirstToolCall() (ToolCall, bool) {
	if len(m.ToolCalls) == 0 {
		return ToolCall{}, false
	}
	return m.ToolCalls[0], true
}

// WithAttachments returns a copy with the given attachments appended
func (m CompletionMessage) WithAttachments(attachments ...Attachment) CompletionMessage {
	if len(attachments) == 0 {
		return m
	}
	out := m
	out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	out.Attachments = append(append([]Attachment(nil), m.Attachments...), attachments...)
	return out
}

// AttachmentsOf returns attachments carried by a message, if any
func AttachmentsOf(m Message) []Attachment {
	switch v := m.(type) {
	case UserMessage:
		return v.Attachments
	case CompletionMessage:
		return v.Attachments
	default:
		return nil
	}
}

// AsUser re-labels a message as user input without touching the original
func AsUser(m Message) UserMessage {
	if u, ok := m.(UserMessage); ok {
		return u
	}
	return UserMessage{
		Content:     m.Text(),
		Attachments: append([]Attachment(nil), AttachmentsOf(m)...),
	}
}

// CallIDs collects call ids issued by completion messages in order
func CallIDs(msgs []Message) []string {
	var ids []string
	for _, m := range msgs {
		if c, ok := m.(CompletionMessage); ok {
			for _, tc := range c.ToolCalls {
				ids = append(ids, tc.CallID)
			}
		}
	}
	return ids
}
