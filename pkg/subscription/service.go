package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/metrics"
)

// Service manages users' subscriptions against a billing provider.
type Service interface {
	// Accounts
	EnsureUser(ctx context.Context, nu NewUser) (*User, error)
	RegisterUser(ctx context.Context, nu NewUser) (*User, bool, error)
	DeleteUser(ctx context.Context, authUserID string) error

	// Catalog and read model
	ListPlans(ctx context.Context) ([]Plan, error)
	Info(ctx context.Context, userID uuid.UUID) (*Info, error)

	// Purchase flows
	EnsureCustomer(ctx context.Context, user *User) (string, error)
	Checkout(ctx context.Context, user *User, opts CheckoutOptions) (*CheckoutLink, error)
	CreatePaymentIntent(ctx context.Context, user *User, priceID string, metadata map[string]string) (*PaymentIntent, error)
	ConfirmPayment(ctx context.Context, user *User, paymentID string) (*Subscription, error)
	PortalLink(ctx context.Context, userID uuid.UUID, returnURL string) (*PortalLink, error)

	// Lifecycle
	Cancel(ctx context.Context, userID uuid.UUID, atPeriodEnd bool) (*CancelResult, error)
	Reactivate(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	SetPlan(ctx context.Context, userID uuid.UUID, priceID string) (*Subscription, error)

	// Provider events
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

type service struct {
	store    Store
	plans    PlanStore
	provider BillingProvider
	notifier Notifier
	dedup    IdempotencyStore
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a new Service with the given dependencies.
// Panics if a required dependency is nil.
func NewService(store Store, plans PlanStore, provider BillingProvider, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if plans == nil {
		panic("subscription: PlanStore is required")
	}
	if provider == nil {
		panic("subscription: BillingProvider is required")
	}

	s := &service{
		store:    store,
		plans:    plans,
		provider: provider,
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"), logger.Provider(provider.Name()))
	return s
}

// EnsureUser returns the user with the given auth id, provisioning it with a
// free subscription on first sight.
func (s *service) EnsureUser(ctx context.Context, nu NewUser) (*User, error) {
	u, err := s.store.GetUserByAuthID(ctx, nu.AuthUserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	u, _, err = s.RegisterUser(ctx, nu)
	return u, err
}

// RegisterUser creates the user and its free subscription. created is false
// when the user already existed.
func (s *service) RegisterUser(ctx context.Context, nu NewUser) (*User, bool, error) {
	if strings.TrimSpace(nu.AuthUserID) == "" {
		return nil, false, ErrMissingAuthUserID
	}

	now := s.now()
	u := &User{
		ID:            uuid.New(),
		AuthUserID:    nu.AuthUserID,
		Email:         nu.Email,
		Name:          nu.Name,
		EmailVerified: nu.EmailVerified,
		PhoneVerified: nu.PhoneVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	stored, created, err := s.store.CreateUser(ctx, u, NewFreeSubscription(u.ID, now))
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	if created {
		s.log.InfoContext(ctx, "user provisioned", logger.UserID(stored.ID))
	}
	return stored, created, nil
}

func (s *service) DeleteUser(ctx context.Context, authUserID string) error {
	return s.store.DeleteUserByAuthID(ctx, authUserID)
}

// ListPlans returns active plans in ascending price order.
func (s *service) ListPlans(ctx context.Context) ([]Plan, error) {
	plans, err := s.plans.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	sortPlans(plans)
	return plans, nil
}

func (s *service) Info(ctx context.Context, userID uuid.UUID) (*Info, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		sub, err = s.store.UpdateSubscription(ctx, userID, UpdateOptions{}, func(*Subscription) (Change, error) {
			return Change{}, nil
		})
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	plan, err := s.plans.GetPlanByPriceID(ctx, sub.EffectivePriceID(now))
	if err != nil {
		return nil, fmt.Errorf("resolve plan %q: %w", sub.EffectivePriceID(now), err)
	}

	return &Info{
		Subscription:  sub,
		Plan:          plan,
		IsPaid:        !plan.IsFree(),
		HasAccess:     sub.HasAccess(now),
		InGraceWindow: sub.InGraceWindow(now),
	}, nil
}

// paidPlan resolves an active, non-free plan for a purchase.
func (s *service) paidPlan(ctx context.Context, priceID string) (*Plan, error) {
	if strings.TrimSpace(priceID) == "" {
		return nil, ErrMissingPriceID
	}
	plan, err := s.plans.GetPlanByPriceID(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanNotFound
	}
	if plan.IsFree() {
		return nil, ErrFreePlanCheckout
	}
	return plan, nil
}

// EnsureCustomer returns the provider customer id for the user, creating the
// customer on first purchase. It returns "" when the provider creates
// customers implicitly at checkout.
func (s *service) EnsureCustomer(ctx context.Context, user *User) (string, error) {
	sub, err := s.store.GetSubscription(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return "", err
	}
	if sub != nil && sub.ProviderCustomerID != "" {
		return sub.ProviderCustomerID, nil
	}

	customerID, err := s.provider.CreateCustomer(ctx, CustomerRequest{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.Name,
	})
	if errors.Is(err, ErrNotSupported) {
		return "", nil
	}
	if err != nil {
		return "", errors.Join(ErrProviderError, err)
	}

	_, err = s.store.UpdateSubscription(ctx, user.ID, UpdateOptions{}, func(sub *Subscription) (Change, error) {
		sub.ProviderCustomerID = customerID
		return Change{}, nil
	})
	if err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *service) Checkout(ctx context.Context, user *User, opts CheckoutOptions) (*CheckoutLink, error) {
	plan, err := s.paidPlan(ctx, opts.PriceID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	link, err := s.provider.CreateCheckoutLink(ctx, CheckoutRequest{
		PriceID:    plan.PriceID,
		UserID:     user.ID.String(),
		CustomerID: customerID,
		Email:      user.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}

	s.log.InfoContext(ctx, "checkout session created",
		logger.UserID(user.ID), logger.PriceID(plan.PriceID))
	return link, nil
}

// CreatePaymentIntent starts an embedded payment for a paid plan. Caller
// metadata is attached to the intent; the user, price and type keys are
// always set by the service.
func (s *service) CreatePaymentIntent(ctx context.Context, user *User, priceID string, metadata map[string]string) (*PaymentIntent, error) {
	plan, err := s.paidPlan(ctx, priceID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.EnsureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, PaymentIntentRequest{
		PriceID:    plan.PriceID,
		Amount:     plan.Price,
		Currency:   plan.Currency,
		CustomerID: customerID,
		Metadata:   intentMetadata(metadata, user.ID, plan.PriceID),
	})
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return nil, err
		}
		return nil, errors.Join(ErrProviderError, err)
	}
	return intent, nil
}

// ConfirmPayment activates the plan paid for by a completed payment. The
// payment must carry the caller's user id. Repeated confirmations, and
// confirmations of a payment the provider webhook already applied, leave the
// subscription as it is.
func (s *service) ConfirmPayment(ctx context.Context, user *User, paymentID string) (*Subscription, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, ErrMissingPaymentID
	}

	payment, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return nil, err
		}
		return nil, errors.Join(ErrProviderError, err)
	}
	if payment.Status != PaymentSucceeded {
		return nil, ErrPaymentNotCompleted
	}
	if payment.UserID != user.ID.String() {
		return nil, ErrPaymentOwnerMismatch
	}

	plan, err := s.paidPlan(ctx, payment.PriceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var settled bool
	sub, err := s.store.UpdateSubscription(ctx, user.ID,
		UpdateOptions{IdempotencyKey: paymentKey(payment.ID)},
		func(sub *Subscription) (Change, error) {
			if payment.CustomerID != "" && sub.ProviderCustomerID != "" && payment.CustomerID != sub.ProviderCustomerID {
				return Change{}, ErrPaymentOwnerMismatch
			}
			// The provider's payment webhook may have activated this
			// subscription already.
			if payment.SubscriptionID != "" && sub.ProviderSubscriptionID == payment.SubscriptionID &&
				sub.Status == StatusActive && sub.PriceID == plan.PriceID {
				settled = true
				return Change{}, nil
			}
			next, err := transition(ctx, sub, onActivate, now)
			if err != nil {
				return Change{}, err
			}
			sub.Status = next
			sub.PriceID = plan.PriceID
			sub.CancelAtPeriodEnd = false
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = plan.PeriodEnd(now)
			if payment.CustomerID != "" {
				sub.ProviderCustomerID = payment.CustomerID
			}
			if payment.SubscriptionID != "" {
				sub.ProviderSubscriptionID = payment.SubscriptionID
			}
			return Change{ResetUsage: true}, nil
		})
	if errors.Is(err, ErrAlreadyProcessed) {
		return s.store.GetSubscription(ctx, user.ID)
	}
	if err != nil {
		return nil, err
	}
	if settled {
		return sub, nil
	}

	metrics.ObserveSubscriptionChange("activate")
	s.log.InfoContext(ctx, "subscription activated",
		logger.UserID(user.ID), logger.PriceID(plan.PriceID))
	return sub, nil
}

func (s *service) PortalLink(ctx context.Context, userID uuid.UUID, returnURL string) (*PortalLink, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.ProviderCustomerID == "" {
		return nil, ErrNoBillingCustomer
	}

	link, err := s.provider.GetCustomerPortalLink(ctx, sub.ProviderCustomerID, returnURL)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	return link, nil
}

// Cancel schedules cancellation at the period end, or cancels immediately and
// downgrades to the free plan, clearing the period's usage.
func (s *service) Cancel(ctx context.Context, userID uuid.UUID, atPeriodEnd bool) (*CancelResult, error) {
	current, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.IsFree() {
		return nil, ErrCannotCancelFree
	}

	event := onCancel
	if atPeriodEnd {
		event = onScheduleCancel
	}
	if _, err := transition(ctx, current, event, s.now()); err != nil {
		return nil, err
	}
	if !atPeriodEnd {
		if _, err := s.plans.GetPlanByPriceID(ctx, FreePriceID); err != nil {
			return nil, errors.Join(ErrFreePlanMissing, err)
		}
	}

	if current.ProviderSubscriptionID != "" {
		if err := s.provider.CancelSubscription(ctx, current.ProviderSubscriptionID, atPeriodEnd); err != nil {
			return nil, errors.Join(ErrProviderError, err)
		}
	}

	now := s.now()
	sub, err := s.store.UpdateSubscription(ctx, userID, UpdateOptions{}, func(sub *Subscription) (Change, error) {
		if sub.IsFree() {
			return Change{}, ErrCannotCancelFree
		}
		next, err := transition(ctx, sub, event, now)
		if err != nil {
			return Change{}, err
		}
		if atPeriodEnd {
			sub.Status = next
			sub.CancelAtPeriodEnd = true
			return Change{}, nil
		}
		sub.downgradeToFree(now)
		return Change{ResetUsage: true}, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveSubscriptionChange(string(event))
	s.log.InfoContext(ctx, "subscription canceled",
		logger.UserID(userID), slog.Bool("at_period_end", atPeriodEnd))

	res := &CancelResult{AtPeriodEnd: atPeriodEnd, Subscription: sub}
	if atPeriodEnd {
		res.CancelDate = sub.CurrentPeriodEnd
	}
	return res, nil
}

// Reactivate undoes a cancellation while the paid period is still running.
func (s *service) Reactivate(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	current, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.IsFree() || (current.Status != StatusCanceled && !current.CancelAtPeriodEnd) {
		return nil, ErrNotScheduledToCancel
	}

	now := s.now()
	if _, err := transition(ctx, current, onReactivate, now); err != nil {
		return nil, err
	}

	if current.ProviderSubscriptionID != "" {
		if err := s.provider.ResumeSubscription(ctx, current.ProviderSubscriptionID); err != nil {
			return nil, errors.Join(ErrProviderError, err)
		}
	}

	sub, err := s.store.UpdateSubscription(ctx, userID, UpdateOptions{}, func(sub *Subscription) (Change, error) {
		next, err := transition(ctx, sub, onReactivate, now)
		if err != nil {
			return Change{}, err
		}
		sub.Status = next
		sub.CancelAtPeriodEnd = false
		return Change{}, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveSubscriptionChange(string(onReactivate))
	s.log.InfoContext(ctx, "subscription reactivated", logger.UserID(userID))
	return sub, nil
}

// SetPlan forces the user onto a plan without involving the provider.
// It backs the development-only test endpoint.
func (s *service) SetPlan(ctx context.Context, userID uuid.UUID, priceID string) (*Subscription, error) {
	plan, err := s.plans.GetPlanByPriceID(ctx, priceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return s.store.UpdateSubscription(ctx, userID, UpdateOptions{}, func(sub *Subscription) (Change, error) {
		sub.Status = StatusActive
		sub.PriceID = plan.PriceID
		sub.CancelAtPeriodEnd = false
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = plan.PeriodEnd(now)
		if plan.IsFree() {
			sub.ProviderCustomerID = ""
			sub.ProviderSubscriptionID = ""
		}
		return Change{ResetUsage: true}, nil
	})
}

func intentMetadata(extra map[string]string, userID uuid.UUID, priceID string) map[string]string {
	md := make(map[string]string, len(extra)+3)
	maps.Copy(md, extra)
	md["user_id"] = userID.String()
	md["price_id"] = priceID
	md["type"] = "subscription"
	return md
}
