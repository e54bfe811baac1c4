// Package audit is the append-only event log for session/invitation/admin
// actions (§4.H), grounded on
// original_source/server_host/utils/audit.py's create_audit_log: one row
// per event, JSON details. Writing an entry does not gate the mutation it
// describes; see Logger.
package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"mudengine/internal/apperr"
)

// Entry is one row of the audit_logs table (§3 AuditLogEntry).
type Entry struct {
	ID           string
	EventType    string
	SessionCode  string // empty if not session-scoped
	ActorUserID  string // empty if system-initiated
	TargetUserID string // empty if the event has no single target
	ClientIP     string
	UserAgent    string
	Details      map[string]interface{}
	CreatedAt    time.Time
}

// redactedKeys mirrors audit.py's format_audit_details sensitive-field
// redaction so secrets never land in the persisted details blob.
var redactedKeys = map[string]bool{"password": true, "token": true, "secret": true}

func redact(details map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if redactedKeys[k] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

// Sink is the persistence contract audit depends on. internal/store
// implements it against the audit_logs table.
type Sink interface {
	InsertAuditLog(id, eventType, sessionCode, actorUserID, targetUserID, clientIP, userAgent, detailsJSON string, createdAt time.Time) error
}

// Logger writes audit entries. It does not order or roll back the mutation
// being recorded: the REST and real-time handlers in this repository call
// Log after (for session deletion, just before) applying their change and
// discard its error, so a failed audit write never aborts the operation.
type Logger struct {
	sink Sink
}

func New(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Log records one event. A write failure is returned as apperr.Transient
// so callers can roll back the mutation it was meant to record, per
// spec.md §4.H's audit-first rule.
func (l *Logger) Log(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	detailsJSON, err := json.Marshal(redact(e.Details))
	if err != nil {
		return apperr.Transient("audit_marshal_failed", "could not encode audit details", err)
	}

	if err := l.sink.InsertAuditLog(e.ID, e.EventType, e.SessionCode, e.ActorUserID, e.TargetUserID, e.ClientIP, e.UserAgent, string(detailsJSON), e.CreatedAt); err != nil {
		log.Printf("audit: failed to write event %s: %v", e.EventType, err)
		return apperr.Transient("audit_write_failed", "could not record audit log entry", err)
	}
	return nil
}
