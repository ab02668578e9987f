package usage

import "errors"

var (
	ErrMissingAction  = errors.New("action is required")
	ErrLimitExceeded  = errors.New("usage limit exceeded")
	ErrTrackingFailed = errors.New("failed to track usage")
)
