package subscription

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("pricing plan not found")
	ErrFreePlanMissing      = errors.New("free plan is not configured")

	ErrMissingAuthUserID        = errors.New("auth user ID is required")
	ErrMissingPriceID           = errors.New("price ID is required")
	ErrMissingPaymentID         = errors.New("payment intent ID is required")
	ErrFreePlanCheckout         = errors.New("free plan does not require checkout")
	ErrCannotCancelFree         = errors.New("cannot cancel free subscription")
	ErrNotScheduledToCancel     = errors.New("subscription is not canceled or scheduled to cancel")
	ErrGraceWindowExpired       = errors.New("subscription period has ended and can no longer be reactivated")
	ErrInvalidSubscriptionState = errors.New("invalid subscription state for this operation")
	ErrNoBillingCustomer        = errors.New("no billing customer for this user")

	ErrPaymentNotCompleted  = errors.New("payment has not completed")
	ErrPaymentOwnerMismatch = errors.New("payment belongs to another user")
	ErrAlreadyProcessed     = errors.New("billing event already processed")

	ErrProviderError             = errors.New("billing provider error")
	ErrNotSupported              = errors.New("operation not supported by billing provider")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload     = errors.New("invalid webhook payload")

	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid billing provider environment")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL          = errors.New("no portal URL returned from provider")

	ErrInvalidCatalog = errors.New("invalid pricing plan catalog")
)
