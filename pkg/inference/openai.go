package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/harun/agentic/pkg/message"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIProvider streams chat completions from OpenAI compatible endpoints
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(profile Profile) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(profile.APIKey)}
	if profile.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(profile.BaseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  profile.Model,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// StreamCompletion starts a streamed chat completion
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, req Request) (Stream, error) {
	messages, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
		// one call per step is all the engine acts on
		params.ParallelToolCalls = openai.Bool(false)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return &openAIStream{stream: stream, calls: make(map[int64]*partialCall)}, nil
}

func toOpenAIMessages(msgs []message.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch m := msg.(type) {
		case message.SystemMessage:
			out = append(out, openai.SystemMessage(m.Content))
		case message.UserMessage:
			out = append(out, openai.UserMessage(m.Content))
		case message.CompletionMessage:
			if !m.HasToolCalls() {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.CallID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.ToolName,
						Arguments: string(args),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   m.Content,
				ToolCalls: toolCalls,
			}
			out = append(out, assistantMsg.ToParam())
		case message.ToolResponseMessage:
			// file markers carry no call id and go in as plain user text
			if m.CallID == "" {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			out = append(out, openai.ToolMessage(m.Content, m.CallID))
		default:
			return nil, fmt.Errorf("unsupported message type %T", msg)
		}
	}
	return out, nil
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

type openAIStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	pending []Chunk
	calls   map[int64]*partialCall
	done    bool
}

func (s *openAIStream) Next(ctx context.Context) (Chunk, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}
		if s.done {
			return Chunk{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return Chunk{}, fmt.Errorf("openai stream: %w", err)
			}
			s.done = true
			s.pending = append(s.pending, s.flushCalls()...)
			continue
		}
		s.consume(s.stream.Current())
	}
}

func (s *openAIStream) consume(chunk openai.ChatCompletionChunk) {
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		s.pending = append(s.pending, TextChunk(choice.Delta.Content))
	}
	for _, tc := range choice.Delta.ToolCalls {
		call, ok := s.calls[tc.Index]
		if !ok {
			call = &partialCall{}
			s.calls[tc.Index] = call
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
			s.pending = append(s.pending, Chunk{ToolCallDelta: &message.ToolCallDelta{
				Content:     call.name,
				ParseStatus: message.ParseStarted,
			}})
		}
		if tc.Function.Arguments != "" {
			call.args.WriteString(tc.Function.Arguments)
			s.pending = append(s.pending, Chunk{ToolCallDelta: &message.ToolCallDelta{
				Content:     tc.Function.Arguments,
				ParseStatus: message.ParseInProgress,
			}})
		}
	}

	if choice.FinishReason != "" {
		s.pending = append(s.pending, s.flushCalls()...)
		s.pending = append(s.pending, StopChunk(openAIStopReason(choice.FinishReason)))
		s.done = true
	}
}

// flushCalls turns accumulated calls into final deltas in index order
func (s *openAIStream) flushCalls() []Chunk {
	if len(s.calls) == 0 {
		return nil
	}
	indexes := make([]int64, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]Chunk, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, finishCall(s.calls[idx]))
	}
	s.calls = make(map[int64]*partialCall)
	return out
}

func finishCall(call *partialCall) Chunk {
	raw := call.args.String()
	args, err := parseArguments(raw)
	if err != nil || call.name == "" {
		return Chunk{ToolCallDelta: &message.ToolCallDelta{Content: raw, ParseStatus: message.ParseFailure}}
	}
	id := call.id
	if id == "" {
		id = NewCallID()
	}
	return ToolCallChunk(message.ToolCall{CallID: id, ToolName: call.name, Arguments: args})
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func openAIStopReason(finish string) message.StopReason {
	switch finish {
	case "stop", "content_filter":
		return message.StopEndOfTurn
	case "tool_calls", "function_call":
		return message.StopEndOfMessage
	case "length":
		return message.StopOutOfTokens
	default:
		return ""
	}
}
