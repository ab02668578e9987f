package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/saasbilling/pkg/statemachine"
)

// action moves a subscription between states.
type action string

const (
	onActivate       action = "activate"
	onPaymentFailed  action = "payment_failed"
	onScheduleCancel action = "schedule_cancel"
	onCancel         action = "cancel"
	onReactivate     action = "reactivate"
)

type graceCheck struct {
	sub *Subscription
	now time.Time
}

func withinGraceWindow(_ context.Context, _ Status, data any) bool {
	gc, ok := data.(graceCheck)
	if !ok || gc.sub == nil {
		return false
	}
	return gc.sub.InGraceWindow(gc.now)
}

var billable = []Status{StatusIncomplete, StatusTrialing, StatusActive, StatusPastDue}

// lifecycle holds the allowed status transitions. Subscription snapshots
// pushed by provider webhooks are written as-is without consulting it.
var lifecycle = statemachine.New[Status, action]().
	AddFromAny([]Status{StatusIncomplete, StatusTrialing, StatusActive, StatusPastDue, StatusCanceled}, onActivate, StatusActive).
	AddFromAny(billable, onPaymentFailed, StatusPastDue).
	Add(StatusTrialing, onScheduleCancel, StatusTrialing).
	Add(StatusActive, onScheduleCancel, StatusActive).
	Add(StatusPastDue, onScheduleCancel, StatusPastDue).
	AddFromAny(billable, onCancel, StatusCanceled).
	AddFromAny([]Status{StatusCanceled, StatusActive, StatusTrialing}, onReactivate, StatusActive, withinGraceWindow).
	Add(StatusPastDue, onReactivate, StatusPastDue, withinGraceWindow)

// transition resolves the next status for sub, mapping table errors onto the
// package's sentinel errors.
func transition(ctx context.Context, sub *Subscription, event action, now time.Time) (Status, error) {
	next, err := lifecycle.Next(ctx, sub.Status, event, graceCheck{sub: sub, now: now})
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, statemachine.ErrRejected):
		return sub.Status, ErrGraceWindowExpired
	default:
		return sub.Status, fmt.Errorf("%w: %s from %s", ErrInvalidSubscriptionState, event, sub.Status)
	}
}
