package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harun/agentic/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

func setupSSEServer(t *testing.T, events []sseEvent, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, e := range events {
			if e.name != "" {
				fmt.Fprintf(w, "event: %s\n", e.name)
			}
			fmt.Fprintf(w, "data: %s\n\n", e.data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, s Stream) []Chunk {
	t.Helper()
	var out []Chunk
	for {
		c, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, c)
	}
}

func build(chunks []Chunk) message.CompletionMessage {
	var b Builder
	for _, c := range chunks {
		b = b.Add(c)
	}
	return b.Build()
}

func openAIChunk(delta string, finish string) sseEvent {
	finishJSON := "null"
	if finish != "" {
		finishJSON = fmt.Sprintf("%q", finish)
	}
	return sseEvent{data: fmt.Sprintf(
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`,
		delta, finishJSON,
	)}
}

func TestOpenAIProvider_StreamCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("should stream text and map the finish reason", func(t *testing.T) {
		var captured map[string]interface{}
		srv := setupSSEServer(t, []sseEvent{
			openAIChunk(`{"role":"assistant","content":"Hel"}`, ""),
			openAIChunk(`{"content":"lo"}`, ""),
			openAIChunk(`{}`, "stop"),
			{data: "[DONE]"},
		}, &captured)

		p := NewOpenAIProvider(Profile{APIKey: "test", BaseURL: srv.URL + "/", Model: "gpt-test"})
		stream, err := p.StreamCompletion(ctx, Request{Messages: []message.Message{
			message.SystemMessage{Content: "be brief"},
			message.UserMessage{Content: "hi"},
			message.ToolResponseMessage{ToolName: "code_interpreter", Content: message.FileMarker("/tmp/a.csv")},
		}})
		require.NoError(t, err)
		defer stream.Close()

		chunks := drain(t, stream)
		msg := build(chunks)
		assert.Equal(t, "Hello", msg.Content)
		assert.Equal(t, message.StopEndOfTurn, msg.StopReason)

		assert.Equal(t, "gpt-test", captured["model"])
		msgs, _ := captured["messages"].([]interface{})
		require.Len(t, msgs, 3)
		assert.Equal(t, "user", msgs[2].(map[string]interface{})["role"])
	})

	t.Run("should accumulate tool call arguments by index", func(t *testing.T) {
		srv := setupSSEServer(t, []sseEvent{
			openAIChunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"brave_search","arguments":""}}]}`, ""),
			openAIChunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}`, ""),
			openAIChunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"golang\"}"}}]}`, ""),
			openAIChunk(`{}`, "tool_calls"),
			{data: "[DONE]"},
		}, nil)

		p := NewOpenAIProvider(Profile{APIKey: "test", BaseURL: srv.URL + "/"})
		stream, err := p.StreamCompletion(ctx, Request{
			Model:    "gpt-test",
			Messages: []message.Message{message.UserMessage{Content: "search"}},
			Tools:    []ToolSpec{{Name: "brave_search", Parameters: map[string]interface{}{"type": "object"}}},
		})
		require.NoError(t, err)

		chunks := drain(t, stream)
		var statuses []message.ParseStatus
		for _, c := range chunks {
			if c.ToolCallDelta != nil {
				statuses = append(statuses, c.ToolCallDelta.ParseStatus)
			}
		}
		assert.Equal(t, []message.ParseStatus{
			message.ParseStarted, message.ParseInProgress, message.ParseInProgress, message.ParseSuccess,
		}, statuses)

		msg := build(chunks)
		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "call_1", msg.ToolCalls[0].CallID)
		assert.Equal(t, "brave_search", msg.ToolCalls[0].ToolName)
		assert.Equal(t, "golang", msg.ToolCalls[0].Arguments["query"])
		assert.Equal(t, message.StopEndOfMessage, msg.StopReason)
	})

	t.Run("should report malformed arguments as a parse failure", func(t *testing.T) {
		srv := setupSSEServer(t, []sseEvent{
			openAIChunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"f","arguments":"{oops"}}]}`, ""),
			openAIChunk(`{}`, "length"),
			{data: "[DONE]"},
		}, nil)

		p := NewOpenAIProvider(Profile{APIKey: "test", BaseURL: srv.URL + "/"})
		stream, err := p.StreamCompletion(ctx, Request{Model: "m", Messages: []message.Message{message.UserMessage{Content: "x"}}})
		require.NoError(t, err)

		msg := build(drain(t, stream))
		assert.Empty(t, msg.ToolCalls)
		assert.Equal(t, message.StopOutOfTokens, msg.StopReason)
	})
}

func TestAnthropicProvider_StreamCompletion(t *testing.T) {
	ctx := context.Background()
	start := sseEvent{name: "message_start", data: `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-test","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}`}
	stop := sseEvent{name: "message_stop", data: `{"type":"message_stop"}`}

	t.Run("should stream text with the system prompt split out", func(t *testing.T) {
		var captured map[string]interface{}
		srv := setupSSEServer(t, []sseEvent{
			start,
			{name: "content_block_start", data: `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{name: "content_block_delta", data: `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi "}}`},
			{name: "content_block_delta", data: `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}`},
			{name: "content_block_stop", data: `{"type":"content_block_stop","index":0}`},
			{name: "message_delta", data: `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`},
			stop,
		}, &captured)

		p := NewAnthropicProvider(Profile{APIKey: "test", BaseURL: srv.URL + "/", Model: "claude-test"})
		stream, err := p.StreamCompletion(ctx, Request{Messages: []message.Message{
			message.SystemMessage{Content: "be brief"},
			message.UserMessage{Content: "hi"},
		}})
		require.NoError(t, err)
		defer stream.Close()

		msg := build(drain(t, stream))
		assert.Equal(t, "Hi there", msg.Content)
		assert.Equal(t, message.StopEndOfTurn, msg.StopReason)

		assert.NotNil(t, captured["system"])
		msgs, _ := captured["messages"].([]interface{})
		assert.Len(t, msgs, 1)
		assert.Equal(t, float64(defaultAnthropicMaxTokens), captured["max_tokens"])
	})

	t.Run("should assemble tool use input from json deltas", func(t *testing.T) {
		srv := setupSSEServer(t, []sseEvent{
			start,
			{name: "content_block_start", data: `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"wolfram_alpha","input":{}}}`},
			{name: "content_block_delta", data: `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"query\": "}}`},
			{name: "content_block_delta", data: `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"2+2\"}"}}`},
			{name: "content_block_stop", data: `{"type":"content_block_stop","index":0}`},
			{name: "message_delta", data: `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":5}}`},
			stop,
		}, nil)

		p := NewAnthropicProvider(Profile{APIKey: "test", BaseURL: srv.URL + "/"})
		stream, err := p.StreamCompletion(ctx, Request{
			Model:    "claude-test",
			Messages: []message.Message{message.UserMessage{Content: "2+2?"}},
			Tools: []ToolSpec{{Name: "wolfram_alpha", Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
				"required":   []string{"query"},
			}}},
		})
		require.NoError(t, err)

		msg := build(drain(t, stream))
		require.Len(t, msg.ToolCalls, 1)
		assert.Equal(t, "toolu_1", msg.ToolCalls[0].CallID)
		assert.Equal(t, "2+2", msg.ToolCalls[0].Arguments["query"])
		assert.Equal(t, message.StopEndOfMessage, msg.StopReason)
	})
}

func TestToAnthropicMessages(t *testing.T) {
	system, msgs := toAnthropicMessages([]message.Message{
		message.SystemMessage{Content: "one"},
		message.SystemMessage{Content: "two"},
		message.UserMessage{Content: "hi"},
		message.CompletionMessage{ToolCalls: []message.ToolCall{{CallID: "c1", ToolName: "photogen", Arguments: map[string]interface{}{"query": "cat"}}}},
		message.ToolResponseMessage{CallID: "c1", ToolName: "photogen", Content: "done"},
	})

	assert.Equal(t, "one\ntwo", system)
	require.Len(t, msgs, 3)
	raw, err := json.Marshal(msgs[2])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"tool_use_id":"c1"`))
}

func TestStopReasonMapping(t *testing.T) {
	assert.Equal(t, message.StopEndOfTurn, openAIStopReason("stop"))
	assert.Equal(t, message.StopEndOfMessage, openAIStopReason("tool_calls"))
	assert.Equal(t, message.StopOutOfTokens, openAIStopReason("length"))
	assert.Equal(t, message.StopReason(""), openAIStopReason("unknown"))

	assert.Equal(t, message.StopEndOfTurn, anthropicStopReason("end_turn"))
	assert.Equal(t, message.StopEndOfMessage, anthropicStopReason("tool_use"))
	assert.Equal(t, message.StopOutOfTokens, anthropicStopReason("max_tokens"))
}
