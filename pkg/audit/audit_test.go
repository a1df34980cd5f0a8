package audit

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogSinkRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	userID := uuid.New()
	sink.Record(context.Background(), Event{
		Kind:   EventLoginFailed,
		UserID: userID,
		Detail: map[string]interface{}{"attempts": 3},
	})

	out := buf.String()
	assert.Contains(t, out, "login_failed")
	assert.Contains(t, out, userID.String())
	assert.Contains(t, out, "attempts=3")
}

func TestSlogSinkOmitsNilUser(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Record(context.Background(), Event{Kind: EventTokenRejected})
	assert.NotContains(t, buf.String(), "user_id")
}

type capturingSink struct {
	events []Event
}

func (s *capturingSink) Record(ctx context.Context, event Event) {
	s.events = append(s.events, event)
}

func TestMiddlewareRecordsRequest(t *testing.T) {
	sink := &capturingSink{}
	userID := uuid.New()
	mw := NewMiddleware(sink, func(ctx context.Context) (uuid.UUID, bool) {
		return userID, true
	})

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, EventRequest, event.Kind)
	assert.Equal(t, userID, event.UserID)
	assert.Equal(t, http.MethodGet, event.Detail["method"])
	assert.True(t, strings.HasPrefix(event.Detail["uri"].(string), "/api/v1/user/"))
}

func TestMiddlewareAnonymousRequest(t *testing.T) {
	sink := &capturingSink{}
	mw := NewMiddleware(sink, func(ctx context.Context) (uuid.UUID, bool) {
		return uuid.Nil, false
	})

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))

	require.Len(t, sink.events, 1)
	assert.Equal(t, uuid.Nil, sink.events[0].UserID)
}
