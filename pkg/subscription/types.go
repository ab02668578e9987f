package subscription

import (
	"time"

	"github.com/google/uuid"
)

// FreePriceID is the external price identifier of the built-in free plan.
// It never reaches a billing provider.
const FreePriceID = "price_free_plan"

// Unlimited is the usage limit value meaning "no cap".
const Unlimited int64 = -1

// freePeriod is the length of the synthetic period given to free subscriptions.
const freePeriod = 365 * 24 * time.Hour

// Status is the local subscription lifecycle state.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
)

// BillingInterval is how often a paid plan renews.
type BillingInterval string

const (
	IntervalNone    BillingInterval = ""
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// User is a locally known account, keyed by the identity provider's user id.
type User struct {
	ID            uuid.UUID
	AuthUserID    string
	Email         string
	Name          string
	EmailVerified bool
	PhoneVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUser describes an account to provision.
type NewUser struct {
	AuthUserID    string
	Email         string
	Name          string
	EmailVerified bool
	PhoneVerified bool
}

// Change tells the store about side effects to apply together with a
// subscription update.
type Change struct {
	// ResetUsage deletes the user's usage logs in the same transaction.
	ResetUsage bool
}

// UpdateOptions modify how Store.UpdateSubscription applies a change.
type UpdateOptions struct {
	// IdempotencyKey, when set, is recorded alongside the update. A key that
	// was already recorded makes the update fail with ErrAlreadyProcessed and
	// leaves the row untouched.
	IdempotencyKey string
}

// CancelResult describes the outcome of Service.Cancel.
type CancelResult struct {
	AtPeriodEnd  bool
	CancelDate   time.Time
	Subscription *Subscription
}

// Info is the read model returned to the subscription dashboard.
type Info struct {
	Subscription  *Subscription
	Plan          *Plan
	IsPaid        bool
	HasAccess     bool
	InGraceWindow bool
}

// CheckoutOptions carry the redirect URLs for a hosted checkout.
type CheckoutOptions struct {
	PriceID    string
	SuccessURL string
	CancelURL  string
}
