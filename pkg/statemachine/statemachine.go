// Package statemachine describes allowed transitions between named states
// as a table. The table holds no current state: callers load the state from
// storage, ask the table for the next one, and persist the result, so one
// table serves any number of records.
package statemachine

import (
	"context"
	"sync"
)

// Guard decides whether a transition may proceed for the given payload.
type Guard[S ~string] func(ctx context.Context, from S, data any) bool

type transition[S ~string] struct {
	to     S
	guards []Guard[S]
}

// Table maps (state, event) pairs to target states.
// It is safe for concurrent use once built.
type Table[S ~string, E ~string] struct {
	mu    sync.RWMutex
	edges map[S]map[E][]transition[S]
}

// New returns an empty transition table.
func New[S ~string, E ~string]() *Table[S, E] {
	return &Table[S, E]{edges: make(map[S]map[E][]transition[S])}
}

// Add registers from --event--> to. Several transitions may share a
// (from, event) pair; the first whose guards all pass wins.
func (t *Table[S, E]) Add(from S, event E, to S, guards ...Guard[S]) *Table[S, E] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.edges[from]; !ok {
		t.edges[from] = make(map[E][]transition[S])
	}
	t.edges[from][event] = append(t.edges[from][event], transition[S]{to: to, guards: guards})
	return t
}

// AddFromAny registers the same event and target for several source states.
func (t *Table[S, E]) AddFromAny(froms []S, event E, to S, guards ...Guard[S]) *Table[S, E] {
	for _, from := range froms {
		t.Add(from, event, to, guards...)
	}
	return t
}

// Next returns the target state for event fired in state from.
func (t *Table[S, E]) Next(ctx context.Context, from S, event E, data any) (S, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	candidates := t.edges[from][event]
	if len(candidates) == 0 {
		return from, &TransitionError{From: string(from), Event: string(event), Cause: ErrNoTransition}
	}

	for _, c := range candidates {
		if passes(ctx, c.guards, from, data) {
			return c.to, nil
		}
	}
	return from, &TransitionError{From: string(from), Event: string(event), Cause: ErrRejected}
}

// Can reports whether Next would succeed.
func (t *Table[S, E]) Can(ctx context.Context, from S, event E, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

func passes[S ~string](ctx context.Context, guards []Guard[S], from S, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, data) {
			return false
		}
	}
	return true
}
