package inference

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harun/agentic/pkg/message"
)

// Script is the canned response for one StreamCompletion call
type Script struct {
	Chunks []Chunk
	// Err fails StreamCompletion itself
	Err error
	// StreamErr is returned by Next after the chunks are drained
	StreamErr error
	// Block makes Next wait for the context after the chunks are drained
	Block bool
}

// ScriptedProvider replays scripts in order. It backs tests and offline
// runs.
type ScriptedProvider struct {
	mu       sync.Mutex
	scripts  []Script
	requests []Request
}

// NewScriptedProvider creates a provider that serves the scripts in order
func NewScriptedProvider(scripts ...Script) *ScriptedProvider {
	return &ScriptedProvider{scripts: scripts}
}

// Name returns the provider name
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Push appends scripts
func (p *ScriptedProvider) Push(scripts ...Script) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, scripts...)
}

// StreamCompletion serves the next script
func (p *ScriptedProvider) StreamCompletion(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.scripts) == 0 {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", len(p.requests)-1)
	}
	script := p.scripts[0]
	p.scripts = p.scripts[1:]
	if script.Err != nil {
		return nil, script.Err
	}
	return &scriptedStream{script: script}, nil
}

// Requests returns the requests seen so far
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Calls returns how many completions were requested
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type scriptedStream struct {
	script Script
	pos    int
}

func (s *scriptedStream) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.pos < len(s.script.Chunks) {
		c := s.script.Chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.script.Block {
		<-ctx.Done()
		return Chunk{}, ctx.Err()
	}
	if s.script.StreamErr != nil {
		return Chunk{}, s.script.StreamErr
	}
	return Chunk{}, io.EOF
}

func (s *scriptedStream) Close() error {
	return nil
}

// Reply scripts a text answer streamed word by word
func Reply(text string, stop message.StopReason) Script {
	var chunks []Chunk
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w != "" {
			chunks = append(chunks, TextChunk(w))
		}
	}
	if stop != "" {
		chunks = append(chunks, StopChunk(stop))
	}
	return Script{Chunks: chunks}
}

// CallTool scripts a response that requests one tool call
func CallTool(call message.ToolCall) Script {
	return Script{Chunks: []Chunk{
		{ToolCallDelta: &message.ToolCallDelta{Content: call.ToolName, ParseStatus: message.ParseStarted}},
		ToolCallChunk(call),
		StopChunk(message.StopEndOfMessage),
	}}
}
