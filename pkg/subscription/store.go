package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store persists users and their subscriptions.
type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByAuthID(ctx context.Context, authUserID string) (*User, error)
	// CreateUser stores the user together with its initial subscription.
	// It reports created=false and returns the existing user when the auth
	// id is already known.
	CreateUser(ctx context.Context, u *User, sub *Subscription) (*User, bool, error)
	DeleteUserByAuthID(ctx context.Context, authUserID string) error

	GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	FindSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	FindSubscriptionByCustomerID(ctx context.Context, customerID string) (*Subscription, error)
	// UpdateSubscription locks the user's subscription row, creating a free
	// one when missing, applies fn and persists the result atomically. If fn
	// returns an error nothing is written.
	UpdateSubscription(ctx context.Context, userID uuid.UUID, opts UpdateOptions, fn func(*Subscription) (Change, error)) (*Subscription, error)
}

// PlanStore persists the pricing catalog.
type PlanStore interface {
	ListActivePlans(ctx context.Context) ([]Plan, error)
	GetPlanByPriceID(ctx context.Context, priceID string) (*Plan, error)
	UpsertPlan(ctx context.Context, p *Plan) error
}

// Notifier delivers billing notices to users. Failures are logged, never
// surfaced to the caller.
type Notifier interface {
	PaymentFailed(ctx context.Context, user *User, plan *Plan, sub *Subscription) error
	SubscriptionEnded(ctx context.Context, user *User, sub *Subscription) error
}

// IdempotencyStore claims webhook event ids so redeliveries are skipped early.
// A claim is completed after the event was applied and released when applying
// it failed.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}
