package handler

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"
)

// jsonResponse implements Response for JSON rendering
type jsonResponse struct {
	status int
	body   any
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures JSON response
type JSONOption func(*jsonResponse)

// WithJSONStatus sets custom HTTP status code
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// JSON renders v as the response body, 200 OK unless overridden.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err as {"error": message} plus any HTTPError details.
// Errors that are neither HTTPError nor ValidationError become a generic 500
// so internal messages never leak to clients.
func JSONError(err error, opts ...JSONOption) Response {
	status, body := errorBody(err)
	r := &jsonResponse{status: status, body: body}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// errorResponse hands the error to the ErrorHandler configured on Wrap.
type errorResponse struct{ err error }

func (e errorResponse) Render(http.ResponseWriter, *http.Request) error { return e.err }

// Error returns a Response that defers to the Wrap error handler, which
// logs and renders it.
func Error(err error) Response {
	return errorResponse{err: err}
}

func errorBody(err error) (int, map[string]any) {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return http.StatusBadRequest, map[string]any{
			"error":  valErr.Message(),
			"fields": valErr,
		}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		body := make(map[string]any, len(httpErr.Details)+1)
		maps.Copy(body, httpErr.Details)
		body["error"] = httpErr.Message
		return httpErr.Code, body
	}

	return ErrInternal.Code, map[string]any{"error": ErrInternal.Message}
}
