// Package auditlog is TrustChain's ambient diagnostic logger: structured
// operational events (CA issuance, revocation, tool-certificate
// violations, index errors) distinct from the tamper-evident verifiable
// log itself. Where the verifiable log (pkg/vlog) and chain store
// (pkg/chainstore) are the system of record for agent actions, this
// package is for operators watching the system run.
package auditlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType categorises an operational event.
type EventType string

const (
	EventCA       EventType = "CA"       // CA issuance, revocation, CRL regeneration
	EventToolCert EventType = "TOOLCERT" // tool certificate issuance and violations
	EventChain    EventType = "CHAIN"    // commit, verify, export operations
	EventSystem   EventType = "SYSTEM"   // startup, shutdown, config reload
)

// Event is one structured operational record.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger records operational events. Unlike the verifiable log, these
// records are not signed or chained — they exist for operators, not for
// audits of agent behaviour.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{})
}

// slogLogger implements Logger on top of log/slog, matching the
// reference system's own logging stack.
type slogLogger struct {
	log *slog.Logger
}

// NewLogger builds a Logger writing through the given slog.Logger. A nil
// logger falls back to slog.Default().
func NewLogger(log *slog.Logger) Logger {
	if log == nil {
		log = slog.Default()
	}
	return &slogLogger{log: log.With("component", "audit")}
}

func (l *slogLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	attrs := []any{
		"event_id", event.ID,
		"type", string(event.Type),
		"action", event.Action,
		"resource", event.Resource,
	}
	for k, v := range metadata {
		attrs = append(attrs, k, v)
	}
	l.log.InfoContext(ctx, "audit event", attrs...)
}
