package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

func (s *Store) GetSubscription(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	sub, ok := s.subs[userID]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *Store) FindSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, func(sub subscription.Subscription) bool {
		return sub.ProviderSubscriptionID == providerSubscriptionID
	})
}

func (s *Store) FindSubscriptionByCustomerID(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, func(sub subscription.Subscription) bool {
		return sub.ProviderCustomerID == customerID
	})
}

func (s *Store) findSubscription(ctx context.Context, match func(subscription.Subscription) bool) (*subscription.Subscription, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	for _, sub := range s.subs {
		if match(sub) {
			return &sub, nil
		}
	}
	return nil, subscription.ErrSubscriptionNotFound
}

func (s *Store) UpdateSubscription(ctx context.Context, userID uuid.UUID, opts subscription.UpdateOptions, fn func(*subscription.Subscription) (subscription.Change, error)) (*subscription.Subscription, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	if opts.IdempotencyKey != "" {
		if _, seen := s.events[opts.IdempotencyKey]; seen {
			return nil, subscription.ErrAlreadyProcessed
		}
	}

	sub, err := s.subscriptionLocked(userID)
	if err != nil {
		return nil, err
	}

	change, err := fn(&sub)
	if err != nil {
		return nil, err
	}
	if _, ok := s.plans[sub.PriceID]; !ok {
		return nil, subscription.ErrPlanNotFound
	}

	sub.UpdatedAt = s.now()
	s.subs[userID] = sub
	if change.ResetUsage {
		delete(s.usage, userID)
	}
	if opts.IdempotencyKey != "" {
		s.events[opts.IdempotencyKey] = struct{}{}
	}

	out := sub
	return &out, nil
}

// subscriptionLocked returns the user's subscription, provisioning a free one
// when missing. The caller holds the lock.
func (s *Store) subscriptionLocked(userID uuid.UUID) (subscription.Subscription, error) {
	if sub, ok := s.subs[userID]; ok {
		return sub, nil
	}
	if _, ok := s.users[userID]; !ok {
		return subscription.Subscription{}, subscription.ErrUserNotFound
	}
	sub := *subscription.NewFreeSubscription(userID, s.now())
	s.subs[userID] = sub
	return sub, nil
}
