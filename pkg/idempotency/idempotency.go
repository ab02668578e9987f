// Package idempotency claims keys so an operation runs at most once within a
// retention window. Webhook handlers claim the provider event id before
// processing, complete the claim once processing succeeded and release it
// when processing fails, so the provider's retry gets another chance.
//
// An uncompleted claim only lasts for a short lease. If the process dies
// mid-way the key becomes claimable again when the lease runs out.
//
// RedisStore shares claims between instances. MemoryStore keeps them in a
// bounded in-process LRU and suits single-instance deployments and tests.
package idempotency

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultTTL is how long a completed claim is remembered.
	DefaultTTL = 72 * time.Hour
	// DefaultLease is how long a claim holds before it is completed.
	DefaultLease = 10 * time.Minute
)

var ErrEmptyKey = errors.New("idempotency key is empty")

// Store claims and releases keys.
type Store interface {
	// Claim reports true when the key was not claimed before.
	Claim(ctx context.Context, key string) (bool, error)
	// Complete keeps a claim for the full retention window.
	Complete(ctx context.Context, key string) error
	// Release forgets a claim.
	Release(ctx context.Context, key string) error
}

// Option configures a store.
type Option func(*settings)

type settings struct {
	lease time.Duration
}

// WithLease sets how long an uncompleted claim blocks other claimants.
func WithLease(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.lease = d
		}
	}
}

func newSettings(ttl time.Duration, opts []Option) settings {
	s := settings{lease: DefaultLease}
	for _, opt := range opts {
		opt(&s)
	}
	s.lease = min(s.lease, ttl)
	return s
}
