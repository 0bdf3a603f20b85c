package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "test-trace-id")

	if got := GetTraceID(ctx); got != "test-trace-id" {
		t.Errorf("Expected trace ID %s, got %s", "test-trace-id", got)
	}
}

func TestWithTurnID(t *testing.T) {
	ctx := WithTurnID(context.Background(), "turn-1")

	if got := GetTurnID(ctx); got != "turn-1" {
		t.Errorf("Expected turn ID %s, got %s", "turn-1", got)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" || GetTurnID(ctx) != "" || GetAgentID(ctx) != "" ||
		GetSessionID(ctx) != "" || GetRequestID(ctx) != "" {
		t.Error("Expected empty values from empty context")
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	tc := TraceContext{
		TraceID:   "trace",
		TurnID:    "turn",
		AgentID:   "agent",
		SessionID: "session",
		RequestID: "request",
	}

	got := FromContext(NewContext(context.Background(), tc))
	if got != tc {
		t.Errorf("Expected %+v, got %+v", tc, got)
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace")
	child := WithTurnID(parent, "turn")

	if GetTurnID(parent) != "" {
		t.Error("Parent context should not see the child's turn ID")
	}
	if GetTraceID(child) != "trace" || GetTurnID(child) != "turn" {
		t.Errorf("Unexpected child context %+v", FromContext(child))
	}
}

func TestNewTurnContext(t *testing.T) {
	t.Run("generates trace ID when missing", func(t *testing.T) {
		ctx := NewTurnContext(context.Background(), "agent-1", "session-1", "turn-1")

		if GetTraceID(ctx) == "" {
			t.Error("Trace ID not generated")
		}
		if GetAgentID(ctx) != "agent-1" || GetSessionID(ctx) != "session-1" || GetTurnID(ctx) != "turn-1" {
			t.Error("Turn identifiers not set")
		}
	})

	t.Run("keeps existing trace ID", func(t *testing.T) {
		parent := WithTraceID(context.Background(), "trace-parent")
		ctx := NewTurnContext(parent, "agent-1", "session-1", "turn-2")

		if GetTraceID(ctx) != "trace-parent" {
			t.Error("Trace ID should be kept")
		}
	})
}
