package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/canyonlabs/usermgr/pkg/apierr"
)

// Response status constants
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the stable success shape consumed by the frontend
type Envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorDetail describes a single failure inside an error envelope
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ErrorEnvelope is the stable error shape consumed by the frontend
type ErrorEnvelope struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Errors  []ErrorDetail `json:"errors,omitempty"`
}

// OK writes a 200 success envelope
func OK(w http.ResponseWriter, r *http.Request, message string, data interface{}) {
	JSON(w, r, http.StatusOK, message, data, nil)
}

// Created writes a 201 success envelope
func Created(w http.ResponseWriter, r *http.Request, message string, data interface{}) {
	JSON(w, r, http.StatusCreated, message, data, nil)
}

// JSON writes a success envelope with an explicit status code and meta
func JSON(w http.ResponseWriter, r *http.Request, code int, message string, data, meta interface{}) {
	render.Status(r, code)
	render.JSON(w, r, Envelope{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
		Meta:    meta,
	})
}

// Err translates an error into the error envelope. Structured errors keep
// their code and message; anything else is logged and surfaced as a generic
// internal failure so internals never leak to clients.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	var v *apierr.Violations
	if errors.As(err, &v) {
		details := make([]ErrorDetail, 0, len(v.Items))
		for _, item := range v.Items {
			details = append(details, ErrorDetail{
				Field:   item.Field,
				Code:    string(item.Code),
				Message: item.Message,
			})
		}
		render.Status(r, v.HTTPStatusCode())
		render.JSON(w, r, ErrorEnvelope{
			Status:  StatusError,
			Message: v.Message,
			Errors:  details,
		})
		return
	}

	var e *apierr.Error
	if !errors.As(err, &e) {
		slog.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "err", err)
		e = apierr.Internal(err)
	}

	render.Status(r, e.HTTPStatusCode())
	render.JSON(w, r, ErrorEnvelope{
		Status:  StatusError,
		Message: e.Message,
		Errors: []ErrorDetail{
			{Field: e.Field, Code: string(e.Code), Message: e.Message},
		},
	})
}

// BadRequest writes a 400 error envelope for malformed request bodies
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Err(w, r, apierr.New(apierr.CodeInvalidInput, message))
}
