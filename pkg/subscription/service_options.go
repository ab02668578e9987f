package subscription

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithNotifier sets where payment failure and subscription end notices go.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *service) {
		s.notifier = n
	}
}

// WithIdempotencyStore enables early skipping of redelivered webhook events.
// Without it, redeliveries are still absorbed by the store's idempotency keys.
func WithIdempotencyStore(st IdempotencyStore) ServiceOption {
	return func(s *service) {
		s.dedup = st
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}
