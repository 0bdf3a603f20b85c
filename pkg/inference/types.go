package inference

import (
	"context"
	"errors"

	"github.com/harun/agentic/pkg/message"
)

// ErrNoProvider is returned when every configured profile is unavailable
var ErrNoProvider = errors.New("no inference provider available")

// Chunk is one streamed fragment of a completion. A chunk carries a text
// delta or a tool call delta, and the last chunk of a stream carries the
// stop reason.
type Chunk struct {
	TextDelta     string
	ToolCallDelta *message.ToolCallDelta
	StopReason    message.StopReason
}

// ToolSpec describes a tool offered to the model
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema object
	Parameters map[string]interface{}
}

// Request contains the parameters for one streamed completion
type Request struct {
	Model       string
	Messages    []message.Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// Stream yields chunks until it returns io.EOF
type Stream interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Provider is a streaming inference backend
type Provider interface {
	Name() string
	StreamCompletion(ctx context.Context, req Request) (Stream, error)
}

// Profile holds credentials and routing for one provider account
type Profile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // "openai", "anthropic"
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Model    string `json:"model,omitempty" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// TextChunk builds a text delta chunk
func TextChunk(text string) Chunk {
	return Chunk{TextDelta: text}
}

// ToolCallChunk builds a successfully parsed tool call chunk
func ToolCallChunk(call message.ToolCall) Chunk {
	c := call
	return Chunk{ToolCallDelta: &message.ToolCallDelta{ToolCall: &c, ParseStatus: message.ParseSuccess}}
}

// StopChunk builds the terminating chunk of a stream
func StopChunk(reason message.StopReason) Chunk {
	return Chunk{StopReason: reason}
}
