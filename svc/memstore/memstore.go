// Package memstore is an in-memory implementation of the subscription, plan
// and usage stores. It backs local development without Postgres and the
// service tests. A single mutex serializes every operation, which gives the
// same atomicity the Postgres store gets from row locks.
package memstore

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
)

var (
	_ subscription.Store     = (*Store)(nil)
	_ subscription.PlanStore = (*Store)(nil)
	_ usage.Store            = (*Store)(nil)
)

// Store keeps users, plans, subscriptions and usage in memory.
type Store struct {
	mu     chan struct{}
	users  map[uuid.UUID]subscription.User
	byAuth map[string]uuid.UUID
	plans  map[string]subscription.Plan
	subs   map[uuid.UUID]subscription.Subscription
	usage  map[uuid.UUID][]usage.Entry
	events map[string]struct{}
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	s := &Store{
		mu:     make(chan struct{}, 1),
		users:  make(map[uuid.UUID]subscription.User),
		byAuth: make(map[string]uuid.UUID),
		plans:  make(map[string]subscription.Plan),
		subs:   make(map[uuid.UUID]subscription.Subscription),
		usage:  make(map[uuid.UUID][]usage.Entry),
		events: make(map[string]struct{}),
		now:    time.Now,
	}
	return s
}

// WithClock overrides the time source used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// lock acquires the store, giving up when ctx is done.
func (s *Store) lock(ctx context.Context) error {
	select {
	case s.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() { <-s.mu }

func clonePlan(p subscription.Plan) *subscription.Plan {
	p.Features = maps.Clone(p.Features)
	return &p
}

func cloneEntry(e usage.Entry) usage.Entry {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}
