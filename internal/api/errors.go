package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/saasbilling/handler"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
)

type errorMapping struct {
	target error
	code   int
	msg    string
}

// Order matters: ErrUserNotFound is checked before the usage wrapper that
// may carry it.
var errorMappings = []errorMapping{
	{subscription.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{subscription.ErrSubscriptionNotFound, http.StatusNotFound, "No subscription found for user"},
	{subscription.ErrPlanNotFound, http.StatusNotFound, "Pricing plan not found"},
	{subscription.ErrMissingPriceID, http.StatusBadRequest, "Price ID is required"},
	{subscription.ErrMissingPaymentID, http.StatusBadRequest, "Payment Intent ID is required"},
	{subscription.ErrFreePlanCheckout, http.StatusBadRequest, "Free plan does not require checkout"},
	{subscription.ErrCannotCancelFree, http.StatusBadRequest, "Cannot cancel free subscription"},
	{subscription.ErrNotScheduledToCancel, http.StatusBadRequest, "Subscription is not canceled or scheduled to cancel"},
	{subscription.ErrGraceWindowExpired, http.StatusBadRequest, "Subscription period has ended and can no longer be reactivated"},
	{subscription.ErrInvalidSubscriptionState, http.StatusBadRequest, "Invalid subscription state for this operation"},
	{subscription.ErrPaymentNotCompleted, http.StatusBadRequest, "Payment not completed"},
	{subscription.ErrPaymentOwnerMismatch, http.StatusBadRequest, "Payment does not belong to this user"},
	{subscription.ErrNoBillingCustomer, http.StatusBadRequest, "No billing account found for user"},
	{subscription.ErrNotSupported, http.StatusBadRequest, "Operation not supported by billing provider"},
	{subscription.ErrWebhookVerificationFailed, http.StatusBadRequest, "Invalid signature"},
	{subscription.ErrInvalidWebhookPayload, http.StatusBadRequest, "Invalid signature"},
	{usage.ErrMissingAction, http.StatusBadRequest, "Action is required"},
	{usage.ErrTrackingFailed, http.StatusInternalServerError, "Failed to track usage"},
}

// mapError translates domain errors into HTTP errors. Unknown errors become
// a 500 carrying fallback. The original error stays joined for logging.
func mapError(err error, fallback string) error {
	if err == nil {
		return nil
	}

	var httpErr handler.HTTPError
	var valErr handler.ValidationError
	if errors.As(err, &httpErr) || errors.As(err, &valErr) {
		return err
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return errors.Join(handler.NewHTTPError(m.code, m.msg), err)
		}
	}
	return errors.Join(handler.NewHTTPError(http.StatusInternalServerError, fallback), err)
}

// fail is the Response form of mapError.
func fail(err error, fallback string) handler.Response {
	return handler.Error(mapError(err, fallback))
}
