package audit

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// EventRequest is recorded for every request passing through the
// Middleware.
const EventRequest EventKind = "http_request"

// IdentityFunc resolves the authenticated user for a request, if any
type IdentityFunc func(ctx context.Context) (uuid.UUID, bool)

// Middleware records an audit event per HTTP request. It runs after the
// authentication middleware so the resolved identity is available.
type Middleware struct {
	sink     Sink
	identity IdentityFunc
}

// NewMiddleware creates a request audit middleware
func NewMiddleware(sink Sink, identity IdentityFunc) *Middleware {
	return &Middleware{sink: sink, identity: identity}
}

// Handler wraps next with per-request audit recording
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event := Event{
			Kind: EventRequest,
			Detail: map[string]interface{}{
				"method": r.Method,
				"uri":    r.RequestURI,
			},
		}
		if m.identity != nil {
			if userID, ok := m.identity(r.Context()); ok {
				event.UserID = userID
			}
		}
		m.sink.Record(r.Context(), event)

		next.ServeHTTP(w, r)
	})
}
