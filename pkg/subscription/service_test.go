package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/idempotency"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
	"github.com/dmitrymomot/saasbilling/svc/memstore"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) CreateCustomer(ctx context.Context, req subscription.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutLink(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutLink, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutLink), args.Error(1)
}

func (m *mockProvider) CreatePaymentIntent(ctx context.Context, req subscription.PaymentIntentRequest) (*subscription.PaymentIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.PaymentIntent), args.Error(1)
}

func (m *mockProvider) GetPayment(ctx context.Context, paymentID string) (*subscription.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Payment), args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	return m.Called(ctx, subscriptionID, atPeriodEnd).Error(0)
}

func (m *mockProvider) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

func (m *mockProvider) GetCustomerPortalLink(ctx context.Context, customerID, returnURL string) (*subscription.PortalLink, error) {
	args := m.Called(ctx, customerID, returnURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.PortalLink), args.Error(1)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*subscription.WebhookEvent, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.WebhookEvent), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	failed []string
	ended  []string
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, u *subscription.User, _ *subscription.Plan, _ *subscription.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, u.Email)
	return nil
}

func (n *recordingNotifier) SubscriptionEnded(_ context.Context, u *subscription.User, _ *subscription.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, u.Email)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx      context.Context
	svc      subscription.Service
	store    *memstore.Store
	provider *mockProvider
	notifier *recordingNotifier
	clock    *clock
	user     *subscription.User
}

func testPlans() []subscription.Plan {
	return []subscription.Plan{
		{Name: "Enterprise", PriceID: "price_ent", Price: 9999, Currency: "usd", Interval: subscription.IntervalMonthly, UsageLimit: 15, Active: true},
		{Name: "Free", PriceID: subscription.FreePriceID, Currency: "usd", UsageLimit: 15, Active: true},
		{Name: "Pro", PriceID: "price_pro", Price: 1999, Currency: "usd", Interval: subscription.IntervalMonthly, UsageLimit: 15, Active: true},
		{Name: "Legacy", PriceID: "price_legacy", Price: 500, Currency: "usd", Interval: subscription.IntervalMonthly, UsageLimit: 5, Active: false},
	}
}

func newFixture(t *testing.T, opts ...subscription.ServiceOption) *fixture {
	t.Helper()

	ctx := context.Background()
	clk := &clock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := memstore.New().WithClock(clk.Now)
	require.NoError(t, subscription.SeedPlans(ctx, store, testPlans()))

	provider := &mockProvider{}
	notifier := &recordingNotifier{}
	opts = append([]subscription.ServiceOption{
		subscription.WithClock(clk.Now),
		subscription.WithNotifier(notifier),
	}, opts...)
	svc := subscription.NewService(store, store, provider, opts...)

	user, err := svc.EnsureUser(ctx, subscription.NewUser{AuthUserID: "user_" + uuid.NewString(), Email: "jo@example.com", Name: "Jo"})
	require.NoError(t, err)

	t.Cleanup(func() { provider.AssertExpectations(t) })
	return &fixture{ctx: ctx, svc: svc, store: store, provider: provider, notifier: notifier, clock: clk, user: user}
}

// activatePro confirms a succeeded payment for the Pro plan.
func (f *fixture) activatePro(t *testing.T, paymentID string) *subscription.Subscription {
	t.Helper()
	f.provider.On("GetPayment", mock.Anything, paymentID).Return(&subscription.Payment{
		ID:             paymentID,
		Status:         subscription.PaymentSucceeded,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		UserID:         f.user.ID.String(),
		PriceID:        "price_pro",
	}, nil)
	sub, err := f.svc.ConfirmPayment(f.ctx, f.user, paymentID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) usageCount(t *testing.T) int64 {
	t.Helper()
	counts, err := f.store.CountByAction(f.ctx, f.user.ID, time.Time{})
	require.NoError(t, err)
	var n int64
	for _, c := range counts {
		n += c
	}
	return n
}

func (f *fixture) addUsage(t *testing.T, n int) {
	t.Helper()
	entries := make([]usage.Entry, n)
	for i := range entries {
		entries[i] = usage.Entry{ID: uuid.NewString(), UserID: f.user.ID, Action: "generation", CreatedAt: f.clock.Now()}
	}
	require.NoError(t, f.store.InsertUsage(f.ctx, entries))
}

func TestService_Users(t *testing.T) {
	t.Parallel()

	t.Run("ensure user provisions free subscription once", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		again, err := f.svc.EnsureUser(f.ctx, subscription.NewUser{AuthUserID: f.user.AuthUserID})
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, again.ID)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.True(t, info.Subscription.IsFree())
		assert.False(t, info.IsPaid)
		assert.Equal(t, "free", info.Plan.Label())
	})

	t.Run("register reports existing user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		u, created, err := f.svc.RegisterUser(f.ctx, subscription.NewUser{AuthUserID: f.user.AuthUserID})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, f.user.ID, u.ID)
	})

	t.Run("register requires auth id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, _, err := f.svc.RegisterUser(f.ctx, subscription.NewUser{})
		assert.ErrorIs(t, err, subscription.ErrMissingAuthUserID)
	})
}

func TestService_ListPlans(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	plans, err := f.svc.ListPlans(f.ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, []string{"Free", "Pro", "Enterprise"}, []string{plans[0].Name, plans[1].Name, plans[2].Name})
}

func TestService_Checkout(t *testing.T) {
	t.Parallel()

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.Checkout(f.ctx, f.user, subscription.CheckoutOptions{})
		assert.ErrorIs(t, err, subscription.ErrMissingPriceID)

		_, err = f.svc.Checkout(f.ctx, f.user, subscription.CheckoutOptions{PriceID: subscription.FreePriceID})
		assert.ErrorIs(t, err, subscription.ErrFreePlanCheckout)

		_, err = f.svc.Checkout(f.ctx, f.user, subscription.CheckoutOptions{PriceID: "price_unknown"})
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)

		_, err = f.svc.Checkout(f.ctx, f.user, subscription.CheckoutOptions{PriceID: "price_legacy"})
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)
	})

	t.Run("creates customer once and returns link", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		f.provider.On("CreateCustomer", mock.Anything, subscription.CustomerRequest{
			UserID: f.user.ID.String(), Email: "jo@example.com", Name: "Jo",
		}).Return("cus_1", nil).Once()
		f.provider.On("CreateCheckoutLink", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutRequest) bool {
			return req.PriceID == "price_pro" && req.CustomerID == "cus_1" && req.SuccessURL == "https://app/ok"
		})).Return(&subscription.CheckoutLink{URL: "https://checkout/1"}, nil).Twice()

		opts := subscription.CheckoutOptions{PriceID: "price_pro", SuccessURL: "https://app/ok", CancelURL: "https://app/no"}
		link, err := f.svc.Checkout(f.ctx, f.user, opts)
		require.NoError(t, err)
		assert.Equal(t, "https://checkout/1", link.URL)

		_, err = f.svc.Checkout(f.ctx, f.user, opts)
		require.NoError(t, err)
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		f.provider.On("CreateCustomer", mock.Anything, mock.Anything).Return("", errors.New("boom"))

		_, err := f.svc.Checkout(f.ctx, f.user, subscription.CheckoutOptions{PriceID: "price_pro"})
		assert.ErrorIs(t, err, subscription.ErrProviderError)
	})
}

func TestService_CreatePaymentIntent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.provider.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_1", nil).Once()
	f.provider.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req subscription.PaymentIntentRequest) bool {
		return req.PriceID == "price_ent" && req.Amount == 9999 && req.CustomerID == "cus_1" &&
			req.Metadata["user_id"] == f.user.ID.String() && req.Metadata["type"] == "subscription" &&
			req.Metadata["source"] == "dashboard"
	})).Return(&subscription.PaymentIntent{ID: "pi_1", ClientSecret: "secret"}, nil)

	intent, err := f.svc.CreatePaymentIntent(f.ctx, f.user, "price_ent", map[string]string{"source": "dashboard", "user_id": "spoofed"})
	require.NoError(t, err)
	assert.Equal(t, "secret", intent.ClientSecret)
}

func TestService_ConfirmPayment(t *testing.T) {
	t.Parallel()

	t.Run("activates plan and resets usage", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.addUsage(t, 4)

		sub := f.activatePro(t, "pi_1")
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, "price_pro", sub.PriceID)
		assert.Equal(t, "cus_1", sub.ProviderCustomerID)
		assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)
		assert.Equal(t, f.clock.Now().AddDate(0, 1, 0), sub.CurrentPeriodEnd)
		assert.Zero(t, f.usageCount(t))
	})

	t.Run("repeated confirmation is a no-op", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		first := f.activatePro(t, "pi_1")
		f.clock.Advance(time.Hour)
		f.addUsage(t, 2)

		second, err := f.svc.ConfirmPayment(f.ctx, f.user, "pi_1")
		require.NoError(t, err)
		assert.Equal(t, first.CurrentPeriodStart, second.CurrentPeriodStart)
		assert.Equal(t, int64(2), f.usageCount(t))
	})

	t.Run("rejects incomplete or foreign payments", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.ConfirmPayment(f.ctx, f.user, " ")
		assert.ErrorIs(t, err, subscription.ErrMissingPaymentID)

		f.provider.On("GetPayment", mock.Anything, "pi_pending").
			Return(&subscription.Payment{ID: "pi_pending", Status: subscription.PaymentPending}, nil)
		_, err = f.svc.ConfirmPayment(f.ctx, f.user, "pi_pending")
		assert.ErrorIs(t, err, subscription.ErrPaymentNotCompleted)

		f.provider.On("GetPayment", mock.Anything, "pi_other").Return(&subscription.Payment{
			ID: "pi_other", Status: subscription.PaymentSucceeded, UserID: uuid.NewString(), PriceID: "price_pro",
		}, nil)
		_, err = f.svc.ConfirmPayment(f.ctx, f.user, "pi_other")
		assert.ErrorIs(t, err, subscription.ErrPaymentOwnerMismatch)
	})

	t.Run("payment without owner metadata is refused", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.On("GetPayment", mock.Anything, "pi_anon").Return(&subscription.Payment{
			ID: "pi_anon", Status: subscription.PaymentSucceeded,
			CustomerID: "cus_someone_else", SubscriptionID: "sub_someone_else", PriceID: "price_ent",
		}, nil)

		_, err := f.svc.ConfirmPayment(f.ctx, f.user, "pi_anon")
		assert.ErrorIs(t, err, subscription.ErrPaymentOwnerMismatch)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.True(t, info.Subscription.IsFree())
		assert.Empty(t, info.Subscription.ProviderCustomerID)
	})

	t.Run("payment of another customer is refused", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		f.provider.On("GetPayment", mock.Anything, "pi_2").Return(&subscription.Payment{
			ID: "pi_2", Status: subscription.PaymentSucceeded, UserID: f.user.ID.String(),
			CustomerID: "cus_other", SubscriptionID: "sub_other", PriceID: "price_ent",
		}, nil)

		_, err := f.svc.ConfirmPayment(f.ctx, f.user, "pi_2")
		assert.ErrorIs(t, err, subscription.ErrPaymentOwnerMismatch)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, "price_pro", info.Subscription.PriceID)
		assert.Equal(t, "cus_1", info.Subscription.ProviderCustomerID)
		assert.Equal(t, "sub_1", info.Subscription.ProviderSubscriptionID)
	})
}

func TestService_PaymentFinalizedOnce(t *testing.T) {
	t.Parallel()

	paid := func(f *fixture, id, paymentID string) (start, end time.Time) {
		start = f.clock.Now().Add(-time.Minute)
		end = start.AddDate(0, 1, 0)
		event := &subscription.WebhookEvent{
			ID: id, Type: subscription.EventPaymentSucceeded,
			SubscriptionID: "sub_1", CustomerID: "cus_1", UserID: f.user.ID.String(),
			PaymentID: paymentID, PriceID: "price_pro", PeriodStart: start, PeriodEnd: end,
		}
		f.provider.On("ParseWebhook", mock.Anything, []byte(id), "sig").Return(event, nil)
		return start, end
	}

	t.Run("webhook then confirmation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		start, end := paid(f, "evt_paid", "pi_1")

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_paid"), "sig")
		require.NoError(t, err)
		f.addUsage(t, 3)
		f.clock.Advance(time.Hour)

		sub := f.activatePro(t, "pi_1")
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, "price_pro", sub.PriceID)
		assert.Equal(t, start, sub.CurrentPeriodStart)
		assert.Equal(t, end, sub.CurrentPeriodEnd)
		assert.Equal(t, int64(3), f.usageCount(t))
	})

	t.Run("confirmation then webhook", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		first := f.activatePro(t, "pi_1")
		f.addUsage(t, 2)
		paid(f, "evt_paid", "pi_1")

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_paid"), "sig")
		require.NoError(t, err)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, first.CurrentPeriodStart, info.Subscription.CurrentPeriodStart)
		assert.Equal(t, int64(2), f.usageCount(t))
	})

	t.Run("webhook without payment reference then confirmation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		start, _ := paid(f, "evt_paid", "")

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_paid"), "sig")
		require.NoError(t, err)
		f.addUsage(t, 4)

		sub := f.activatePro(t, "pi_1")
		assert.Equal(t, start, sub.CurrentPeriodStart)
		assert.Equal(t, int64(4), f.usageCount(t))
	})
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("free subscription cannot be canceled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.Cancel(f.ctx, f.user.ID, true)
		assert.ErrorIs(t, err, subscription.ErrCannotCancelFree)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.Cancel(f.ctx, uuid.New(), true)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("at period end keeps plan", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sub := f.activatePro(t, "pi_1")
		f.provider.On("CancelSubscription", mock.Anything, "sub_1", true).Return(nil).Once()

		res, err := f.svc.Cancel(f.ctx, f.user.ID, true)
		require.NoError(t, err)
		assert.True(t, res.AtPeriodEnd)
		assert.Equal(t, sub.CurrentPeriodEnd, res.CancelDate)
		assert.True(t, res.Subscription.CancelAtPeriodEnd)
		assert.Equal(t, subscription.StatusActive, res.Subscription.Status)
		assert.Equal(t, "price_pro", res.Subscription.PriceID)
	})

	t.Run("immediately downgrades and clears usage", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		f.addUsage(t, 3)
		f.provider.On("CancelSubscription", mock.Anything, "sub_1", false).Return(nil).Once()

		res, err := f.svc.Cancel(f.ctx, f.user.ID, false)
		require.NoError(t, err)
		sub := res.Subscription
		assert.False(t, res.AtPeriodEnd)
		assert.Equal(t, subscription.StatusCanceled, sub.Status)
		assert.True(t, sub.IsFree())
		assert.False(t, sub.CancelAtPeriodEnd)
		assert.Empty(t, sub.ProviderCustomerID)
		assert.Equal(t, f.clock.Now().Add(365*24*time.Hour), sub.CurrentPeriodEnd)
		assert.Zero(t, f.usageCount(t))

		_, err = f.svc.Cancel(f.ctx, f.user.ID, false)
		assert.ErrorIs(t, err, subscription.ErrCannotCancelFree)
	})

	t.Run("provider failure leaves subscription untouched", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		f.provider.On("CancelSubscription", mock.Anything, "sub_1", true).Return(errors.New("down"))

		_, err := f.svc.Cancel(f.ctx, f.user.ID, true)
		assert.ErrorIs(t, err, subscription.ErrProviderError)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.False(t, info.Subscription.CancelAtPeriodEnd)
	})
}

func TestService_Reactivate(t *testing.T) {
	t.Parallel()

	t.Run("clears scheduled cancellation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		f.provider.On("CancelSubscription", mock.Anything, "sub_1", true).Return(nil)
		f.provider.On("ResumeSubscription", mock.Anything, "sub_1").Return(nil).Once()

		_, err := f.svc.Cancel(f.ctx, f.user.ID, true)
		require.NoError(t, err)

		sub, err := f.svc.Reactivate(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.False(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, "price_pro", sub.PriceID)
	})

	t.Run("requires a pending cancellation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.svc.Reactivate(f.ctx, f.user.ID)
		assert.ErrorIs(t, err, subscription.ErrNotScheduledToCancel)

		f.activatePro(t, "pi_1")
		_, err = f.svc.Reactivate(f.ctx, f.user.ID)
		assert.ErrorIs(t, err, subscription.ErrNotScheduledToCancel)
	})

	t.Run("past due subscription keeps its status", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		f.provider.On("CancelSubscription", mock.Anything, "sub_1", true).Return(nil)
		f.provider.On("ResumeSubscription", mock.Anything, "sub_1").Return(nil).Once()
		f.provider.On("ParseWebhook", mock.Anything, []byte("evt_failed"), "sig").Return(&subscription.WebhookEvent{
			ID: "evt_failed", Type: subscription.EventPaymentFailed, SubscriptionID: "sub_1",
		}, nil)

		_, err := f.svc.Cancel(f.ctx, f.user.ID, true)
		require.NoError(t, err)
		_, err = f.svc.HandleWebhook(f.ctx, []byte("evt_failed"), "sig")
		require.NoError(t, err)

		sub, err := f.svc.Reactivate(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, sub.Status)
		assert.False(t, sub.CancelAtPeriodEnd)
	})

	t.Run("fails after the period ended", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		f.provider.On("CancelSubscription", mock.Anything, "sub_1", true).Return(nil)

		_, err := f.svc.Cancel(f.ctx, f.user.ID, true)
		require.NoError(t, err)

		f.clock.Advance(32 * 24 * time.Hour)
		_, err = f.svc.Reactivate(f.ctx, f.user.ID)
		assert.ErrorIs(t, err, subscription.ErrGraceWindowExpired)
	})
}

func TestService_ScheduledCancellationExpires(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.activatePro(t, "pi_1")
	f.provider.On("CancelSubscription", mock.Anything, "sub_1", true).Return(nil)

	res, err := f.svc.Cancel(f.ctx, f.user.ID, true)
	require.NoError(t, err)

	info, err := f.svc.Info(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, info.IsPaid)
	assert.True(t, info.HasAccess)
	assert.True(t, info.InGraceWindow)

	f.clock.Advance(60 * 24 * time.Hour)

	info, err = f.svc.Info(f.ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.FreePriceID, info.Plan.PriceID)
	assert.False(t, info.IsPaid)
	assert.False(t, info.HasAccess)
	assert.False(t, info.InGraceWindow)
	assert.Equal(t, res.CancelDate, info.Subscription.UsagePeriodStart(f.clock.Now()))
}

func TestService_PortalLink(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.PortalLink(f.ctx, f.user.ID, "https://app/dashboard")
	assert.ErrorIs(t, err, subscription.ErrNoBillingCustomer)

	f.activatePro(t, "pi_1")
	f.provider.On("GetCustomerPortalLink", mock.Anything, "cus_1", "https://app/dashboard").
		Return(&subscription.PortalLink{URL: "https://portal"}, nil)

	link, err := f.svc.PortalLink(f.ctx, f.user.ID, "https://app/dashboard")
	require.NoError(t, err)
	assert.Equal(t, "https://portal", link.URL)
}

func TestService_SetPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addUsage(t, 2)

	sub, err := f.svc.SetPlan(f.ctx, f.user.ID, "price_ent")
	require.NoError(t, err)
	assert.Equal(t, "price_ent", sub.PriceID)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Zero(t, f.usageCount(t))

	_, err = f.svc.SetPlan(f.ctx, f.user.ID, "price_missing")
	assert.ErrorIs(t, err, subscription.ErrPlanNotFound)
}

func TestService_HandleWebhook(t *testing.T) {
	t.Parallel()

	webhook := func(f *fixture, event *subscription.WebhookEvent) {
		f.provider.On("ParseWebhook", mock.Anything, []byte(event.ID), "sig").Return(event, nil)
	}

	t.Run("rejects bad signature", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.On("ParseWebhook", mock.Anything, mock.Anything, "bad").Return(nil, errors.New("mismatch"))

		_, err := f.svc.HandleWebhook(f.ctx, []byte("{}"), "bad")
		assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
	})

	t.Run("subscription update syncs provider state", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")

		start := f.clock.Now().Add(24 * time.Hour)
		webhook(f, &subscription.WebhookEvent{
			ID: "evt_update", Type: subscription.EventSubscriptionUpdated,
			SubscriptionID: "sub_1", CustomerID: "cus_1",
			Status: subscription.StatusActive, PriceID: "price_ent", CancelAtPeriodEnd: true,
			PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0),
		})

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_update"), "sig")
		require.NoError(t, err)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, "price_ent", info.Subscription.PriceID)
		assert.True(t, info.Subscription.CancelAtPeriodEnd)
		assert.Equal(t, start, info.Subscription.CurrentPeriodStart)
	})

	t.Run("unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		webhook(f, &subscription.WebhookEvent{
			ID: "evt_unknown", Type: subscription.EventSubscriptionUpdated, SubscriptionID: "sub_nope",
		})

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_unknown"), "sig")
		assert.NoError(t, err)
	})

	t.Run("payment failure marks past due and notifies once", func(t *testing.T) {
		t.Parallel()
		claims := idempotency.NewMemoryStore(100, time.Hour, idempotency.WithLease(time.Nanosecond))
		f := newFixture(t, subscription.WithIdempotencyStore(claims))
		f.activatePro(t, "pi_1")
		webhook(f, &subscription.WebhookEvent{
			ID: "evt_failed", Type: subscription.EventPaymentFailed, SubscriptionID: "sub_1",
		})

		for range 2 {
			_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_failed"), "sig")
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}

		claimed, err := claims.Claim(f.ctx, "mock:evt_failed")
		require.NoError(t, err)
		assert.False(t, claimed, "applied event stays claimed past the lease")

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, info.Subscription.Status)
		assert.Equal(t, []string{"jo@example.com"}, f.notifier.failed)
	})

	t.Run("payment without subscription is ignored", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		webhook(f, &subscription.WebhookEvent{ID: "evt_oneoff", Type: subscription.EventPaymentSucceeded})

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_oneoff"), "sig")
		assert.NoError(t, err)
	})

	t.Run("payment success recovers past due subscription", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		webhook(f, &subscription.WebhookEvent{ID: "evt_f", Type: subscription.EventPaymentFailed, SubscriptionID: "sub_1"})
		webhook(f, &subscription.WebhookEvent{ID: "evt_s", Type: subscription.EventPaymentSucceeded, SubscriptionID: "sub_1", PriceID: "price_pro"})

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_f"), "sig")
		require.NoError(t, err)
		_, err = f.svc.HandleWebhook(f.ctx, []byte("evt_s"), "sig")
		require.NoError(t, err)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, info.Subscription.Status)
	})

	t.Run("deleted subscription downgrades to free", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.activatePro(t, "pi_1")
		f.addUsage(t, 5)
		webhook(f, &subscription.WebhookEvent{
			ID: "evt_deleted", Type: subscription.EventSubscriptionDeleted,
			SubscriptionID: "sub_1", Status: subscription.StatusCanceled,
		})

		_, err := f.svc.HandleWebhook(f.ctx, []byte("evt_deleted"), "sig")
		require.NoError(t, err)

		info, err := f.svc.Info(f.ctx, f.user.ID)
		require.NoError(t, err)
		assert.True(t, info.Subscription.IsFree())
		assert.Equal(t, subscription.StatusCanceled, info.Subscription.Status)
		assert.Empty(t, info.Subscription.ProviderSubscriptionID)
		assert.Zero(t, f.usageCount(t))
		assert.Equal(t, []string{"jo@example.com"}, f.notifier.ended)
	})
}
