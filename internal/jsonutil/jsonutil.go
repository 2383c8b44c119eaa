// Package jsonutil provides helpers for rendering Galleria JSON responses.
package jsonutil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperr "github.com/galleria/galleria/internal/errors"
)

// RequestIDHeader carries the per-request identifier set by the server middleware.
const RequestIDHeader = "X-Request-Id"

// ErrorBody is the "error" member of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// ErrorResponse is the JSON structure for error responses.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"requestId,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

// RenderError writes an APIError as a JSON error response.
func RenderError(w http.ResponseWriter, apiErr *apperr.APIError) {
	resp := ErrorResponse{
		Error: ErrorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Kind:    string(apiErr.Kind),
		},
		RequestID: w.Header().Get(RequestIDHeader),
	}
	WriteJSON(w, apiErr.HTTPStatus, resp)
}

// WriteErrorResponse classifies err and renders it. Server-side failures
// are logged with their cause; the cause is never sent to the client.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apperr.From(err)
	if apiErr.HTTPStatus >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", apiErr.Code,
			"request_id", w.Header().Get(RequestIDHeader),
			"error", err,
		)
	}
	RenderError(w, apiErr)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.ErrMalformedBody.Wrap(err)
	}
	return nil
}
