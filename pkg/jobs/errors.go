package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrBackendRequestFailed = errors.New("backend request failed")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrSinkClosed           = errors.New("stream sink closed")
	ErrMissingUserID        = errors.New("user id is required")
)

// BackendError is returned when the job backend answers with a non-2xx status.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend request failed with status %d: %s", e.Status, e.Message)
}

func (e *BackendError) Unwrap() error {
	return ErrBackendRequestFailed
}
