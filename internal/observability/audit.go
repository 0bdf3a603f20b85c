package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/agentic/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Audit event types
const (
	AuditShield = "shield"
	AuditTool   = "tool"
)

// AuditEvent is one line of the audit trail. Shield violations, shield
// warnings and builtin tool runs are audited.
type AuditEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"` // "shield:llama_guard", "execute:brave_search"
	Status    string                 `json:"status"` // "success", "failure", "violation", "warning"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// Filled from the context when empty
	TraceID   string `json:"trace_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the process audit logger, writing to stderr until
// InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = NewAuditLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
	}
	return auditInst
}

// InitAuditLogger sends the process audit trail to a rotated file at path
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file := &lumberjack.Logger{Filename: path, MaxSize: 50, MaxAge: 30, Compress: true}

	auditMu.Lock()
	prev := auditInst
	auditInst = &AuditLogger{logger: zerolog.New(file), closer: file}
	auditMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// NewAuditLogger creates an audit logger writing to the given logger
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Record writes the event and adds it to the active span
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	tc := tracing.FromContext(ctx)
	if event.TurnID == "" {
		event.TurnID = tc.TurnID
	}
	if event.AgentID == "" {
		event.AgentID = tc.AgentID
	}
	if event.SessionID == "" {
		event.SessionID = tc.SessionID
	}

	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		span.AddEvent("audit."+event.Type, trace.WithAttributes(
			attribute.String("audit.action", event.Action),
			attribute.String("audit.status", event.Status),
		))
	} else if event.TraceID == "" {
		event.TraceID = tc.TraceID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)
	for k, v := range map[string]string{
		"trace_id":   event.TraceID,
		"turn_id":    event.TurnID,
		"agent_id":   event.AgentID,
		"session_id": event.SessionID,
	} {
		if v != "" {
			entry = entry.Str(k, v)
		}
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Shield records a shield verdict that violated or warned
func (a *AuditLogger) Shield(ctx context.Context, shieldType, status string, metadata map[string]interface{}) {
	a.Record(ctx, AuditEvent{Type: AuditShield, Action: "shield:" + shieldType, Status: status, Metadata: metadata})
}

// Close closes the audit file, if any
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// RecordToolAudit audits one builtin tool run on the process audit logger
func RecordToolAudit(ctx context.Context, toolName, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     AuditTool,
		Action:   "execute:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}
