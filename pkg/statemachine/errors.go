package statemachine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTransition means no edge is registered for the state and event.
	ErrNoTransition = errors.New("no transition available")
	// ErrRejected means edges exist but every one was refused by a guard.
	ErrRejected = errors.New("transition rejected by guards")
)

// TransitionError reports a failed Next call. It matches ErrNoTransition or
// ErrRejected with errors.Is.
type TransitionError struct {
	From  string
	Event string
	Cause error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %q from %q", e.Cause, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return e.Cause }
