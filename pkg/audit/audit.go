// Package audit exposes the sink interface the auth core reports
// security-relevant events to. Delivery to an external collector is a
// collaborator concern; the default sink writes structured log records.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the class of audit event
type EventKind string

const (
	EventLoginSucceeded     EventKind = "login_succeeded"
	EventLoginFailed        EventKind = "login_failed"
	EventAccountLocked      EventKind = "account_locked"
	EventTokenIssued        EventKind = "token_issued"
	EventTokenRefreshed     EventKind = "token_refreshed"
	EventTokenRejected      EventKind = "token_rejected"
	EventLogout             EventKind = "logout"
	EventPasswordChanged    EventKind = "password_changed"
	EventUserCreated        EventKind = "user_created"
	EventUserUpdated        EventKind = "user_updated"
	EventUserDeleted        EventKind = "user_deleted"
	EventRoleAssigned       EventKind = "role_assigned"
	EventRoleRemoved        EventKind = "role_removed"
	EventPermissionGranted  EventKind = "permission_granted"
	EventPermissionRevoked  EventKind = "permission_revoked"
)

// Event is a single audit record
type Event struct {
	Kind      EventKind
	UserID    uuid.UUID
	Timestamp time.Time
	Detail    map[string]interface{}
}

// Sink receives audit events. Implementations must be safe for concurrent
// use; Record must never block request handling on slow delivery.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// SlogSink writes audit events as structured log records
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink over the given logger; nil uses the default
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"kind", string(event.Kind),
		"at", event.Timestamp,
	}
	if event.UserID != uuid.Nil {
		attrs = append(attrs, "user_id", event.UserID.String())
	}
	for k, v := range event.Detail {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
}

// NopSink discards all events; used in tests
type NopSink struct{}

func (NopSink) Record(ctx context.Context, event Event) {}
