package inference

import (
	"context"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/harun/agentic/pkg/message"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider streams messages from Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(profile Profile) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(profile.APIKey)}
	if profile.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(profile.BaseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  profile.Model,
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// StreamCompletion starts a streamed message
func (p *AnthropicProvider) StreamCompletion(ctx context.Context, req Request) (Stream, error) {
	system, messages := toAnthropicMessages(req.Messages)

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			switch required := tool.Parameters["required"].(type) {
			case []string:
				toolParam.InputSchema.Required = required
			case []interface{}:
				for _, v := range required {
					if s, ok := v.(string); ok {
						toolParam.InputSchema.Required = append(toolParam.InputSchema.Required, s)
					}
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{stream: stream, calls: make(map[int64]*partialCall)}, nil
}

// toAnthropicMessages splits out the system prompt, which Anthropic takes
// as a request field rather than a message
func toAnthropicMessages(msgs []message.Message) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch m := msg.(type) {
		case message.SystemMessage:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case message.UserMessage:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case message.CompletionMessage:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.CallID, tc.Arguments, tc.ToolName))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(" "))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case message.ToolResponseMessage:
			if m.CallID == "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
				continue
			}
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.CallID, m.Content, false),
			))
		}
	}
	return system, out
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	pending []Chunk
	calls   map[int64]*partialCall
	stop    message.StopReason
	done    bool
}

func (s *anthropicStream) Next(ctx context.Context) (Chunk, error) {
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
				return Chunk{}, fmt.Errorf("anthropic stream: %w", err)
			}
			s.finish()
			continue
		}
		s.consume(s.stream.Current())
	}
}

func (s *anthropicStream) consume(event anthropic.MessageStreamEventUnion) {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if block, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			call := &partialCall{id: block.ID, name: block.Name}
			s.calls[e.Index] = call
			s.pending = append(s.pending, Chunk{ToolCallDelta: &message.ToolCallDelta{
				Content:     block.Name,
				ParseStatus: message.ParseStarted,
			}})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				s.pending = append(s.pending, TextChunk(d.Text))
			}
		case anthropic.InputJSONDelta:
			call, ok := s.calls[e.Index]
			if !ok || d.PartialJSON == "" {
				return
			}
			call.args.WriteString(d.PartialJSON)
			s.pending = append(s.pending, Chunk{ToolCallDelta: &message.ToolCallDelta{
				Content:     d.PartialJSON,
				ParseStatus: message.ParseInProgress,
			}})
		}
	case anthropic.ContentBlockStopEvent:
		if call, ok := s.calls[e.Index]; ok {
			delete(s.calls, e.Index)
			s.pending = append(s.pending, finishCall(call))
		}
	case anthropic.MessageDeltaEvent:
		if e.Delta.StopReason != "" {
			s.stop = anthropicStopReason(e.Delta.StopReason)
		}
	case anthropic.MessageStopEvent:
		s.finish()
	}
}

func (s *anthropicStream) finish() {
	for idx, call := range s.calls {
		delete(s.calls, idx)
		s.pending = append(s.pending, finishCall(call))
	}
	if s.stop != "" {
		s.pending = append(s.pending, StopChunk(s.stop))
	}
	s.done = true
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

func anthropicStopReason(reason anthropic.StopReason) message.StopReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence, anthropic.StopReasonRefusal:
		return message.StopEndOfTurn
	case anthropic.StopReasonToolUse:
		return message.StopEndOfMessage
	case anthropic.StopReasonMaxTokens:
		return message.StopOutOfTokens
	default:
		return ""
	}
}
