package subscription

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/metrics"
)

// HandleWebhook verifies and applies a provider event. Unknown events and
// events for unknown subscriptions are acknowledged without changes.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	provider := s.provider.Name()

	event, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		metrics.ObserveWebhook(provider, "unknown", metrics.OutcomeRejected)
		if errors.Is(err, ErrWebhookVerificationFailed) || errors.Is(err, ErrInvalidWebhookPayload) {
			return nil, err
		}
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	log := s.log.With(logger.EventType(event.ProviderEvent), logger.Event(event.ID))

	var claimKey string
	if s.dedup != nil && event.ID != "" {
		key := provider + ":" + event.ID
		claimed, err := s.dedup.Claim(ctx, key)
		switch {
		case err != nil:
			log.WarnContext(ctx, "webhook idempotency claim failed", logger.Error(err))
		case !claimed:
			log.InfoContext(ctx, "duplicate webhook event skipped")
			metrics.ObserveWebhook(provider, string(event.Type), metrics.OutcomeDuplicate)
			return event, nil
		default:
			claimKey = key
		}
	}

	if err := s.dispatch(ctx, log, event); err != nil {
		if claimKey != "" {
			if rerr := s.dedup.Release(ctx, claimKey); rerr != nil {
				log.WarnContext(ctx, "webhook idempotency release failed", logger.Error(rerr))
			}
		}
		metrics.ObserveWebhook(provider, string(event.Type), metrics.OutcomeFailed)
		return event, err
	}
	if claimKey != "" {
		if err := s.dedup.Complete(ctx, claimKey); err != nil {
			log.WarnContext(ctx, "webhook idempotency completion failed", logger.Error(err))
		}
	}

	metrics.ObserveWebhook(provider, string(event.Type), metrics.OutcomeProcessed)
	return event, nil
}

func (s *service) dispatch(ctx context.Context, log *slog.Logger, event *WebhookEvent) error {
	switch event.Type {
	case EventSubscriptionUpdated:
		return s.applySubscriptionSnapshot(ctx, log, event)
	case EventSubscriptionDeleted:
		return s.applySubscriptionEnded(ctx, log, event)
	case EventPaymentSucceeded:
		if event.SubscriptionID == "" {
			log.DebugContext(ctx, "payment without subscription ignored")
			return nil
		}
		return s.applyPaymentSucceeded(ctx, log, event)
	case EventPaymentFailed:
		if event.SubscriptionID == "" {
			log.DebugContext(ctx, "payment without subscription ignored")
			return nil
		}
		return s.applyPaymentFailed(ctx, log, event)
	case EventSubscriptionCreated:
		log.InfoContext(ctx, "subscription created event skipped, activation follows payment")
		return nil
	default:
		log.InfoContext(ctx, "unhandled webhook event")
		return nil
	}
}

// locate finds the local subscription an event refers to, trying the provider
// subscription id, then the customer id, then the user id from metadata.
func (s *service) locate(ctx context.Context, event *WebhookEvent) (*Subscription, error) {
	if event.SubscriptionID != "" {
		sub, err := s.store.FindSubscriptionByProviderID(ctx, event.SubscriptionID)
		if err == nil || !errors.Is(err, ErrSubscriptionNotFound) {
			return sub, err
		}
	}
	if event.CustomerID != "" {
		sub, err := s.store.FindSubscriptionByCustomerID(ctx, event.CustomerID)
		if err == nil || !errors.Is(err, ErrSubscriptionNotFound) {
			return sub, err
		}
	}
	if id, err := uuid.Parse(event.UserID); err == nil {
		return s.store.GetSubscription(ctx, id)
	}
	return nil, ErrSubscriptionNotFound
}

// knownPlan resolves the event's price to a local plan. An unknown price
// yields nil so the current plan is kept.
func (s *service) knownPlan(ctx context.Context, log *slog.Logger, priceID string) (*Plan, error) {
	if priceID == "" {
		return nil, nil
	}
	plan, err := s.plans.GetPlanByPriceID(ctx, priceID)
	if errors.Is(err, ErrPlanNotFound) {
		log.WarnContext(ctx, "webhook references unknown price", logger.PriceID(priceID))
		return nil, nil
	}
	return plan, err
}

func (s *service) applySubscriptionSnapshot(ctx context.Context, log *slog.Logger, event *WebhookEvent) error {
	current, err := s.locate(ctx, event)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "webhook for unknown subscription ignored", logger.SubscriptionID(event.SubscriptionID))
		return nil
	}
	if err != nil {
		return err
	}

	plan, err := s.knownPlan(ctx, log, event.PriceID)
	if err != nil {
		return err
	}

	var previous *Plan
	if plan != nil && plan.PriceID != current.PriceID {
		previous, err = s.knownPlan(ctx, log, current.PriceID)
		if err != nil {
			return err
		}
	}

	_, err = s.store.UpdateSubscription(ctx, current.UserID, UpdateOptions{IdempotencyKey: eventKey(event)},
		func(sub *Subscription) (Change, error) {
			if event.Status != "" {
				sub.Status = event.Status
			}
			if plan != nil {
				sub.PriceID = plan.PriceID
			}
			sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
			if !event.PeriodStart.IsZero() {
				sub.CurrentPeriodStart = event.PeriodStart
			}
			if !event.PeriodEnd.IsZero() {
				sub.CurrentPeriodEnd = event.PeriodEnd
			}
			if event.SubscriptionID != "" {
				sub.ProviderSubscriptionID = event.SubscriptionID
			}
			if event.CustomerID != "" {
				sub.ProviderCustomerID = event.CustomerID
			}
			downgrade := previous != nil && plan != nil && isDowngrade(previous, plan)
			return Change{ResetUsage: downgrade}, nil
		})
	if errors.Is(err, ErrAlreadyProcessed) {
		return nil
	}
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "subscription synced from provider",
		logger.UserID(current.UserID), slog.String("status", string(event.Status)))
	return nil
}

func (s *service) applySubscriptionEnded(ctx context.Context, log *slog.Logger, event *WebhookEvent) error {
	current, err := s.locate(ctx, event)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.InfoContext(ctx, "ended subscription already detached", logger.SubscriptionID(event.SubscriptionID))
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	sub, err := s.store.UpdateSubscription(ctx, current.UserID, UpdateOptions{IdempotencyKey: eventKey(event)},
		func(sub *Subscription) (Change, error) {
			sub.downgradeToFree(now)
			return Change{ResetUsage: true}, nil
		})
	if errors.Is(err, ErrAlreadyProcessed) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.ObserveSubscriptionChange("ended")
	log.InfoContext(ctx, "subscription ended, downgraded to free", logger.UserID(current.UserID))
	s.notify(ctx, log, current.UserID, func(u *User) error {
		return s.notifier.SubscriptionEnded(ctx, u, sub)
	})
	return nil
}

func (s *service) applyPaymentSucceeded(ctx context.Context, log *slog.Logger, event *WebhookEvent) error {
	current, err := s.locate(ctx, event)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "payment for unknown subscription ignored", logger.SubscriptionID(event.SubscriptionID))
		return nil
	}
	if err != nil {
		return err
	}

	plan, err := s.knownPlan(ctx, log, event.PriceID)
	if err != nil {
		return err
	}

	key := eventKey(event)
	if event.PaymentID != "" {
		key = paymentKey(event.PaymentID)
	}

	now := s.now()
	_, err = s.store.UpdateSubscription(ctx, current.UserID, UpdateOptions{IdempotencyKey: key},
		func(sub *Subscription) (Change, error) {
			next, err := transition(ctx, sub, onActivate, now)
			if err != nil {
				return Change{}, err
			}
			fresh := sub.Status != StatusActive
			sub.Status = next
			sub.CancelAtPeriodEnd = false
			if plan != nil {
				fresh = fresh || sub.PriceID != plan.PriceID
				sub.PriceID = plan.PriceID
			}
			switch {
			case !event.PeriodStart.IsZero() && !event.PeriodEnd.IsZero():
				sub.CurrentPeriodStart = event.PeriodStart
				sub.CurrentPeriodEnd = event.PeriodEnd
			case plan != nil && fresh:
				sub.CurrentPeriodStart = now
				sub.CurrentPeriodEnd = plan.PeriodEnd(now)
			}
			sub.ProviderSubscriptionID = event.SubscriptionID
			if event.CustomerID != "" {
				sub.ProviderCustomerID = event.CustomerID
			}
			return Change{ResetUsage: fresh}, nil
		})
	if errors.Is(err, ErrAlreadyProcessed) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.ObserveSubscriptionChange(string(onActivate))
	log.InfoContext(ctx, "payment succeeded, subscription active", logger.UserID(current.UserID))
	return nil
}

func (s *service) applyPaymentFailed(ctx context.Context, log *slog.Logger, event *WebhookEvent) error {
	current, err := s.locate(ctx, event)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "failed payment for unknown subscription ignored", logger.SubscriptionID(event.SubscriptionID))
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	sub, err := s.store.UpdateSubscription(ctx, current.UserID, UpdateOptions{IdempotencyKey: eventKey(event)},
		func(sub *Subscription) (Change, error) {
			next, err := transition(ctx, sub, onPaymentFailed, now)
			if err != nil {
				return Change{}, err
			}
			sub.Status = next
			return Change{}, nil
		})
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		return nil
	case errors.Is(err, ErrInvalidSubscriptionState):
		log.InfoContext(ctx, "payment failure ignored for subscription state",
			logger.UserID(current.UserID), slog.String("status", string(current.Status)))
		return nil
	case err != nil:
		return err
	}

	metrics.ObserveSubscriptionChange(string(onPaymentFailed))
	log.WarnContext(ctx, "payment failed, subscription past due", logger.UserID(current.UserID))

	plan, err := s.plans.GetPlanByPriceID(ctx, sub.PriceID)
	if err != nil {
		log.WarnContext(ctx, "plan lookup for notice failed", logger.Error(err))
		return nil
	}
	s.notify(ctx, log, current.UserID, func(u *User) error {
		return s.notifier.PaymentFailed(ctx, u, plan, sub)
	})
	return nil
}

func (s *service) notify(ctx context.Context, log *slog.Logger, userID uuid.UUID, send func(*User) error) {
	if s.notifier == nil {
		return
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		log.WarnContext(ctx, "notice recipient lookup failed", logger.UserID(userID), logger.Error(err))
		return
	}
	if err := send(u); err != nil {
		log.WarnContext(ctx, "billing notice not delivered", logger.UserID(userID), logger.Error(err))
	}
}

func eventKey(event *WebhookEvent) string {
	if event.ID == "" {
		return ""
	}
	return "event:" + event.ID
}

// paymentKey records a settled payment so that the webhook and the client
// confirmation finalize it only once between them.
func paymentKey(paymentID string) string {
	return "payment:" + paymentID
}

func isDowngrade(from, to *Plan) bool {
	if to.UsageLimit == Unlimited {
		return false
	}
	return from.UsageLimit == Unlimited || to.UsageLimit < from.UsageLimit || to.Price < from.Price
}
