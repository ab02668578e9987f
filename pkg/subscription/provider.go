package subscription

import (
	"context"
	"time"
)

// BillingProvider is the payment provider integration. Implementations wrap
// the provider's SDK and normalize its objects into the types below.
type BillingProvider interface {
	// Name identifies the provider in logs, metrics and idempotency keys.
	Name() string

	// CreateCustomer registers a billing customer and returns its id.
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)

	// CreateCheckoutLink creates a hosted checkout session.
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// CreatePaymentIntent starts an embedded payment for a plan.
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)

	// GetPayment looks up a payment started by CreatePaymentIntent.
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)

	// CancelSubscription cancels now or at the end of the current period.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error

	// ResumeSubscription clears a scheduled cancellation.
	ResumeSubscription(ctx context.Context, subscriptionID string) error

	// GetCustomerPortalLink returns a short-lived self-service portal URL.
	GetCustomerPortalLink(ctx context.Context, customerID, returnURL string) (*PortalLink, error)

	// ParseWebhook verifies the signature and normalizes the event.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// CustomerRequest describes a billing customer to create.
type CustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	PriceID    string
	UserID     string // local user id, echoed back in webhook metadata
	CustomerID string // provider customer id, may be empty
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// PortalLink represents a customer portal session.
type PortalLink struct {
	URL       string
	ExpiresAt time.Time
}

// PaymentIntentRequest asks the provider to collect the first payment of a
// plan through an embedded payment form.
type PaymentIntentRequest struct {
	PriceID    string
	Amount     int64
	Currency   string
	CustomerID string
	Metadata   map[string]string
}

// PaymentIntent is the client half of an embedded payment.
type PaymentIntent struct {
	ID             string
	ClientSecret   string
	SubscriptionID string // set when the provider opened a pending subscription
}

// PaymentStatus is a normalized payment state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is a normalized provider payment.
type Payment struct {
	ID             string
	Status         PaymentStatus
	Amount         int64
	Currency       string
	CustomerID     string
	SubscriptionID string
	UserID         string // from metadata
	PriceID        string // from metadata
}

// EventType represents the normalized billing event type.
// Each provider maps its specific events onto these.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventUnhandled           EventType = "unhandled"
)

// WebhookEvent is a normalized webhook event.
type WebhookEvent struct {
	ID                string
	Type              EventType
	ProviderEvent     string // original provider event name
	SubscriptionID    string
	CustomerID        string
	UserID            string // local user id from metadata, if any
	PaymentID         string // payment intent or transaction settled by a payment event
	Status            Status
	PriceID           string
	CancelAtPeriodEnd bool
	PeriodStart       time.Time
	PeriodEnd         time.Time
}
