package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/harun/agentic/pkg/inference"
	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/safety"
	"github.com/harun/agentic/pkg/toolexecutor"
	"github.com/harun/agentic/pkg/turn"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// State is a position in the turn state machine
type State string

const (
	StateCollectingContext State = "COLLECTING_CONTEXT"
	StateInputShield       State = "INPUT_SHIELD"
	StateInference         State = "INFERENCE"
	StateToolCallPresent   State = "TOOL_CALL_PRESENT"
	StateToolExecution     State = "TOOL_EXECUTION"
	StateOutputShield      State = "OUTPUT_SHIELD"
	StateComplete          State = "COMPLETE"
	StateAborted           State = "ABORTED"
)

// Shield touchpoints reported in shield step metadata
const (
	TouchpointUserInput       = "user-input"
	TouchpointAssistantOutput = "assistant-output"
	TouchpointToolOutput      = "tool-output"
)

// Agent is a configured agent: its model, tools and shields
type Agent struct {
	id               string
	cfg              AgentConfig
	provider         inference.Provider
	tools            *toolexecutor.Executor
	shields          *safety.Runner
	inferenceTimeout time.Duration
	now              func() time.Time
	logger           zerolog.Logger
}

// ID returns the agent id
func (a *Agent) ID() string {
	return a.id
}

// Config returns the configuration the agent was created with
func (a *Agent) Config() AgentConfig {
	return a.cfg
}

// Tools returns the agent's tool registry
func (a *Agent) Tools() *toolexecutor.Executor {
	return a.tools
}

func (a *Agent) prefixMessages() []message.Message {
	if len(a.cfg.DebugPrefixMessages) > 0 {
		return append([]message.Message(nil), a.cfg.DebugPrefixMessages...)
	}
	return []message.Message{
		BuildPreamble(a.tools.BuiltinNames(), a.tools.CustomDefinitions(), a.cfg.Instructions, a.now()),
	}
}

func (a *Agent) toolSpecs() []inference.ToolSpec {
	defs := a.tools.Definitions()
	if len(defs) == 0 {
		return nil
	}
	specs := make([]inference.ToolSpec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, inference.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toolexecutor.ParametersSchema(def),
		})
	}
	return specs
}

// turnRun is the state of one turn while it executes
type turnRun struct {
	agent  *Agent
	turnID string
	stream bool
	em     *emitter
	steps  []turn.Step
	state  State
	logger zerolog.Logger
}

// executeTurn runs the state machine for one turn and returns the finished
// Turn. It does not record the turn; a returned error means the turn must
// be discarded.
func (a *Agent) executeTurn(ctx context.Context, em *emitter, turnID string, history []turn.Turn, req TurnRequest) (turn.Turn, error) {
	startTime := time.Now()
	startedAt := a.now().UTC()

	ctx = tracing.NewTurnContext(ctx, a.id, req.SessionID, turnID)
	ctx, span := tracing.StartSpan(ctx, "agentic.agent", "agent.turn",
		attribute.String("agent_id", a.id),
		attribute.String("session_id", req.SessionID),
		attribute.String("turn_id", turnID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, a.logger)
	r := &turnRun{
		agent:  a,
		turnID: turnID,
		stream: req.Stream,
		em:     em,
		logger: logger,
	}

	fail := func(err error) (turn.Turn, error) {
		status := "failed"
		if errors.Is(err, context.Canceled) {
			status = "cancelled"
			logger.Info().Msg("Turn abandoned")
		} else {
			logger.Error().Err(err).Str("state", string(r.state)).Msg("Turn failed")
		}
		tracing.FailSpan(span, err, "turn failed")
		observability.RecordTurn(a.id, status, time.Since(startTime))
		return turn.Turn{}, err
	}

	if err := em.emit(TurnStart{TurnID: turnID}); err != nil {
		return fail(err)
	}

	r.transition(StateCollectingContext)
	replayed := ReplayHistory(history)
	dialog := make([]message.Message, 0, len(replayed)+len(req.Messages))
	dialog = append(dialog, replayed...)
	dialog = append(dialog, req.Messages...)

	r.transition(StateInputShield)
	violation, err := r.shieldGate(ctx, dialog, a.cfg.InputShields, TouchpointUserInput)
	if err != nil {
		return fail(err)
	}

	var output message.CompletionMessage
	status := turn.StatusCompleted
	if violation != nil {
		output = redirectMessage(*violation)
		status = turn.StatusAborted
	} else {
		final, aborted, err := r.loop(ctx, dialog)
		if err != nil {
			return fail(err)
		}
		output = final
		if aborted {
			status = turn.StatusAborted
		} else {
			r.transition(StateOutputShield)
			checked := append(dialog[:len(dialog):len(dialog)], final)
			violation, err = r.shieldGate(ctx, checked, a.cfg.OutputShields, TouchpointAssistantOutput)
			if err != nil {
				return fail(err)
			}
			if violation != nil {
				output = redirectMessage(*violation)
				status = turn.StatusAborted
			}
		}
	}

	if status == turn.StatusAborted {
		r.transition(StateAborted)
	} else {
		r.transition(StateComplete)
	}

	t := turn.Turn{
		TurnID:        turnID,
		SessionID:     req.SessionID,
		InputMessages: append(message.List(nil), req.Messages...),
		Steps:         turn.StepList(r.steps),
		OutputMessage: output,
		Status:        status,
		StartedAt:     startedAt,
		CompletedAt:   a.now().UTC(),
	}

	observability.RecordTurn(a.id, string(status), time.Since(startTime))
	span.SetAttributes(
		attribute.String("turn.status", string(status)),
		attribute.Int("turn.steps", len(t.Steps)),
	)
	logger.Info().
		Str("status", string(status)).
		Int("steps", len(t.Steps)).
		Int("inferences", t.InferenceCount()).
		Dur("duration", time.Since(startTime)).
		Msg("Turn finished")

	return t, nil
}

// loop alternates inference and builtin tool calls until a final message
// is produced. The bool result reports a per-tool shield violation.
func (r *turnRun) loop(ctx context.Context, dialog []message.Message) (message.CompletionMessage, bool, error) {
	a := r.agent
	msgs := preprocessDialog(dialog, a.prefixMessages())
	maxIters := a.cfg.maxInferIters()

	var attachments []message.Attachment
	nIter := 0
	for {
		r.transition(StateInference)
		msg, err := r.infer(ctx, msgs)
		if err != nil {
			return message.CompletionMessage{}, false, err
		}
		nIter++

		if nIter >= maxIters {
			r.logger.Info().Int("iterations", nIter).Msg("Inference budget reached")
			return msg, false, nil
		}
		if msg.StopReason == message.StopOutOfTokens {
			r.logger.Info().Msg("Out of token budget")
			return msg, false, nil
		}

		call, ok := msg.FirstToolCall()
		if !ok {
			if msg.StopReason == message.StopEndOfTurn {
				return msg.WithAttachments(attachments...), false, nil
			}
			r.logger.Debug().Msg("Partial message, continuing")
			msgs = append(msgs, msg)
			continue
		}

		r.transition(StateToolCallPresent)
		if len(msg.ToolCalls) > 1 {
			r.logger.Warn().Int("tool_calls", len(msg.ToolCalls)).Msg("Only the first tool call is executed")
		}
		if a.tools.IsCustom(call.ToolName) {
			r.logger.Debug().Str("tool", call.ToolName).Msg("Handing custom tool call back to caller")
			return msg, false, nil
		}

		r.transition(StateToolExecution)
		result, violation, err := r.executeTool(ctx, msg, call)
		if err != nil {
			return message.CompletionMessage{}, false, err
		}
		if violation != nil {
			return redirectMessage(*violation), true, nil
		}

		attachments = append(attachments, result.Attachments...)
		msgs = append(msgs, msg, result.Response)
	}
}

// infer runs one inference step
func (r *turnRun) infer(ctx context.Context, msgs []message.Message) (message.CompletionMessage, error) {
	a := r.agent
	header := r.newStepHeader()
	if err := r.em.emit(StepStart{StepType: turn.StepInference, StepID: header.StepID}); err != nil {
		return message.CompletionMessage{}, err
	}

	ictx := ctx
	if a.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, a.inferenceTimeout)
		defer cancel()
	}
	ictx, span := tracing.StartSpan(ictx, "agentic.agent", "agent.inference",
		attribute.String("provider", a.provider.Name()),
		attribute.String("step_id", header.StepID),
		attribute.Int("messages", len(msgs)),
	)
	defer span.End()

	startTime := time.Now()
	failed := func(err error) (message.CompletionMessage, error) {
		observability.RecordInference(a.provider.Name(), time.Since(startTime), false)
		err = r.inferenceError(ctx, ictx, err)
		tracing.FailSpan(span, err, "inference failed")
		return message.CompletionMessage{}, err
	}

	stream, err := a.provider.StreamCompletion(ictx, inference.Request{
		Model:       a.cfg.Model,
		Messages:    msgs,
		Tools:       a.toolSpecs(),
		Temperature: a.cfg.Sampling.Temperature,
		MaxTokens:   a.cfg.Sampling.MaxTokens,
	})
	if err != nil {
		return failed(err)
	}
	defer stream.Close()

	var b inference.Builder
	for {
		chunk, err := stream.Next(ictx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return failed(err)
		}
		b = b.Add(chunk)

		if !r.stream {
			continue
		}
		switch {
		case chunk.ToolCallDelta != nil:
			delta := *chunk.ToolCallDelta
			err = r.em.emit(StepProgress{StepType: turn.StepInference, StepID: header.StepID, ToolCallDelta: &delta})
		case chunk.TextDelta != "" && chunk.StopReason == "":
			err = r.em.emit(StepProgress{StepType: turn.StepInference, StepID: header.StepID, TextDelta: chunk.TextDelta})
		}
		if err != nil {
			return message.CompletionMessage{}, err
		}
	}

	msg := b.Build()
	observability.RecordInference(a.provider.Name(), time.Since(startTime), true)
	span.SetAttributes(
		attribute.String("stop_reason", string(msg.StopReason)),
		attribute.Int("tool_calls", len(msg.ToolCalls)),
	)

	header.CompletedAt = a.now().UTC()
	return msg, r.complete(turn.InferenceStep{StepHeader: header, ModelResponse: msg})
}

func (r *turnRun) inferenceError(ctx, ictx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(ictx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", ErrInferenceTimeout, r.agent.inferenceTimeout)
	}
	return upstreamError(err)
}

// executeTool runs one builtin tool step. A non-nil verdict means a
// per-tool shield blocked the call.
func (r *turnRun) executeTool(ctx context.Context, msg message.CompletionMessage, call message.ToolCall) (toolexecutor.DispatchResult, *safety.Verdict, error) {
	header := r.newStepHeader()
	if err := r.em.emit(StepStart{StepType: turn.StepToolExecution, StepID: header.StepID}); err != nil {
		return toolexecutor.DispatchResult{}, nil, err
	}
	progressCall := call
	if err := r.em.emit(StepProgress{StepType: turn.StepToolExecution, StepID: header.StepID, ToolCall: &progressCall}); err != nil {
		return toolexecutor.DispatchResult{}, nil, err
	}

	result, err := r.agent.tools.Dispatch(ctx, call, msg)

	var safetyErr *safety.SafetyError
	switch {
	case errors.As(err, &safetyErr):
		resp := result.Response
		if resp.CallID == "" {
			resp = message.ToolResponseMessage{
				CallID:   call.CallID,
				ToolName: call.ToolName,
				Content:  safetyErr.Verdict.ViolationReturnMessage,
			}
		}
		if err := r.completeTool(header, call, resp); err != nil {
			return result, nil, err
		}
		v := safetyErr.Verdict
		if err := r.shieldStep(TouchpointToolOutput, v); err != nil {
			return result, nil, err
		}
		return result, &v, nil
	case err != nil && ctx.Err() != nil:
		return result, nil, ctx.Err()
	case errors.Is(err, toolexecutor.ErrTimeout):
		return result, nil, fmt.Errorf("%w: %w", ErrToolTimeout, err)
	case err != nil:
		return result, nil, upstreamError(err)
	}

	if err := r.completeTool(header, call, result.Response); err != nil {
		return result, nil, err
	}
	if len(result.Verdicts) > 0 {
		if err := r.shieldStep(TouchpointToolOutput, summarizeVerdicts(result.Verdicts)); err != nil {
			return result, nil, err
		}
	}
	return result, nil, nil
}

func (r *turnRun) completeTool(header turn.StepHeader, call message.ToolCall, resp message.ToolResponseMessage) error {
	header.CompletedAt = r.agent.now().UTC()
	return r.complete(turn.ToolExecutionStep{
		StepHeader:    header,
		ToolCalls:     []message.ToolCall{call},
		ToolResponses: []message.ToolResponseMessage{resp},
	})
}

// shieldGate runs shields as a shield step. It emits nothing when no
// shields are configured. A non-nil verdict means a RAISE shield fired.
func (r *turnRun) shieldGate(ctx context.Context, msgs []message.Message, shields []safety.ShieldDefinition, touchpoint string) (*safety.Verdict, error) {
	if len(shields) == 0 {
		return nil, nil
	}

	header := r.newStepHeader()
	if err := r.em.emit(StepStart{
		StepType: turn.StepShieldCall,
		StepID:   header.StepID,
		Metadata: map[string]string{"touchpoint": touchpoint},
	}); err != nil {
		return nil, err
	}

	verdicts, err := r.agent.shields.RunShields(ctx, msgs, shields)
	var safetyErr *safety.SafetyError
	if errors.As(err, &safetyErr) {
		v := safetyErr.Verdict
		header.CompletedAt = r.agent.now().UTC()
		if err := r.complete(turn.ShieldCallStep{StepHeader: header, Response: v}); err != nil {
			return nil, err
		}
		return &v, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, upstreamError(err)
	}

	header.CompletedAt = r.agent.now().UTC()
	return nil, r.complete(turn.ShieldCallStep{StepHeader: header, Response: summarizeVerdicts(verdicts)})
}

// shieldStep records an already decided verdict as a complete shield step
func (r *turnRun) shieldStep(touchpoint string, v safety.Verdict) error {
	header := r.newStepHeader()
	if err := r.em.emit(StepStart{
		StepType: turn.StepShieldCall,
		StepID:   header.StepID,
		Metadata: map[string]string{"touchpoint": touchpoint},
	}); err != nil {
		return err
	}
	header.CompletedAt = r.agent.now().UTC()
	return r.complete(turn.ShieldCallStep{StepHeader: header, Response: v})
}

func (r *turnRun) newStepHeader() turn.StepHeader {
	return turn.StepHeader{
		TurnID:    r.turnID,
		StepID:    uuid.NewString(),
		StartedAt: r.agent.now().UTC(),
	}
}

// complete appends a finished step and emits its step_complete event
func (r *turnRun) complete(step turn.Step) error {
	r.steps = append(r.steps, step)
	observability.RecordStep(string(step.Type()))
	return r.em.emit(StepComplete{StepType: step.Type(), StepID: step.Header().StepID, Step: step})
}

func (r *turnRun) transition(s State) {
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(s)).Msg("Turn state")
	r.state = s
}

func redirectMessage(v safety.Verdict) message.CompletionMessage {
	return message.CompletionMessage{
		Content:    v.ViolationReturnMessage,
		StopReason: message.StopEndOfTurn,
	}
}

// summarizeVerdicts folds the verdicts of one gate that let the turn
// continue into a single non-violating verdict. WARN violations are kept in
// the metadata.
func summarizeVerdicts(verdicts []safety.Verdict) safety.Verdict {
	types := make([]string, 0, len(verdicts))
	var warnings []string
	for _, v := range verdicts {
		types = append(types, v.ShieldType)
		if v.IsViolation {
			warnings = append(warnings, v.ShieldType+":"+v.ViolationType)
		}
	}
	out := safety.Pass(strings.Join(types, ","))
	if len(warnings) > 0 {
		out.Metadata = map[string]string{"warnings": strings.Join(warnings, ",")}
	}
	return out
}

func upstreamError(err error) error {
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}
