package observability

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is the record handed to the audit sink for security-relevant
// actions: logins, token issuance, rotation, revocation, anomaly signals.
type AuditEvent struct {
	UserID    string
	Action    string
	IP        string
	UserAgent string
	Details   map[string]any
	Timestamp time.Time
}

// AuditSink consumes audit events fire-and-forget. A sink failure must never
// fail the auth operation that produced the event.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// SlogAuditSink writes audit events as structured log records.
type SlogAuditSink struct {
	logger *slog.Logger
}

func NewSlogAuditSink(logger *slog.Logger) *SlogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditSink{logger: logger}
}

func (s *SlogAuditSink) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"action", event.Action,
		"user_id", event.UserID,
		"ip", event.IP,
		"user_agent", event.UserAgent,
		"timestamp", event.Timestamp,
	}
	for k, v := range event.Details {
		attrs = append(attrs, "detail."+k, v)
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
}

// NopAuditSink discards events. Used in tests and as a safe default.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEvent) {}
