package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is a user's single billing subscription.
type Subscription struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	PriceID                string
	Status                 Status
	CancelAtPeriodEnd      bool
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	ProviderCustomerID     string
	ProviderSubscriptionID string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewFreeSubscription returns an active free subscription starting at now.
func NewFreeSubscription(userID uuid.UUID, now time.Time) *Subscription {
	return &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PriceID:            FreePriceID,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(freePeriod),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsFree reports whether the subscription references the free plan.
func (s *Subscription) IsFree() bool {
	return s.PriceID == FreePriceID
}

// Expired reports whether a canceled subscription, or one scheduled to cancel,
// has run past its paid period. The row may still say active when the
// provider's deletion event has not arrived yet.
func (s *Subscription) Expired(now time.Time) bool {
	if s.Status != StatusCanceled && !s.CancelAtPeriodEnd {
		return false
	}
	return !now.Before(s.CurrentPeriodEnd)
}

// InGraceWindow reports whether the subscription is canceled or scheduled to
// cancel while its current period has not ended yet.
func (s *Subscription) InGraceWindow(now time.Time) bool {
	if s.IsFree() {
		return false
	}
	if s.Status != StatusCanceled && !s.CancelAtPeriodEnd {
		return false
	}
	return now.Before(s.CurrentPeriodEnd)
}

// EffectivePriceID is the plan the user is entitled to right now. Canceled
// subscriptions past their period end fall back to the free plan.
func (s *Subscription) EffectivePriceID(now time.Time) string {
	if s.Expired(now) {
		return FreePriceID
	}
	return s.PriceID
}

// UsagePeriodStart is the instant from which usage counts toward the limit.
func (s *Subscription) UsagePeriodStart(now time.Time) time.Time {
	if s.Expired(now) {
		return s.CurrentPeriodEnd
	}
	return s.CurrentPeriodStart
}

// UsageResetDate is when the usage counter next starts over.
func (s *Subscription) UsageResetDate(now time.Time) time.Time {
	if s.Expired(now) {
		return s.CurrentPeriodEnd.Add(freePeriod)
	}
	return s.CurrentPeriodEnd
}

// HasAccess reports whether paid features are available: active or trialing
// subscriptions, and canceled ones still inside their grace window.
func (s *Subscription) HasAccess(now time.Time) bool {
	if s.Expired(now) {
		return false
	}
	switch s.Status {
	case StatusActive, StatusTrialing:
		return true
	case StatusCanceled:
		return now.Before(s.CurrentPeriodEnd)
	}
	return false
}

// downgradeToFree moves the subscription to the free plan, starting a new
// free period at now and forgetting provider references.
func (s *Subscription) downgradeToFree(now time.Time) {
	s.Status = StatusCanceled
	s.PriceID = FreePriceID
	s.CancelAtPeriodEnd = false
	s.ProviderCustomerID = ""
	s.ProviderSubscriptionID = ""
	s.CurrentPeriodStart = now
	s.CurrentPeriodEnd = now.Add(freePeriod)
}
