package handler

import (
	"errors"
	"net/http"
)

// Package-level errors for common failure scenarios
var (
	// ErrNilResponse indicates a handler returned nil instead of a Response
	ErrNilResponse = errors.New("handler returned nil response")
	// ErrBinderNotApplicable tells Wrap to skip a binder for this request
	ErrBinderNotApplicable = errors.New("binder not applicable")
	// ErrStreamAborted marks failures after an event stream has started;
	// the response is already committed so nothing more can be written
	ErrStreamAborted = errors.New("event stream aborted")
)

// HTTPError represents an HTTP error with status code and the message sent
// to the client. Details are merged into the JSON error body.
type HTTPError struct {
	Code    int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates an HTTP error with the given status code and message.
func NewHTTPError(code int, message string) HTTPError {
	return HTTPError{Code: code, Message: message}
}

// WithDetails returns a copy of e carrying extra body fields.
func (e HTTPError) WithDetails(details map[string]any) HTTPError {
	e.Details = details
	return e
}

var (
	ErrBadRequest      = HTTPError{Code: http.StatusBadRequest, Message: "Bad request"}
	ErrUnauthorized    = HTTPError{Code: http.StatusUnauthorized, Message: "Unauthorized"}
	ErrNotFound        = HTTPError{Code: http.StatusNotFound, Message: "Not found"}
	ErrTooManyRequests = HTTPError{Code: http.StatusTooManyRequests, Message: "Too many requests"}
	ErrInternal        = HTTPError{Code: http.StatusInternalServerError, Message: "Internal server error"}
)
