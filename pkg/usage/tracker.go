package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/metrics"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

// DefaultAction is the metered action reported when none are configured.
const DefaultAction = "generation"

// Result is the outcome of a Track call.
type Result struct {
	Action    string
	Used      int64
	Limit     int64
	Remaining int64
}

// Status summarizes a user's usage in the current period.
type Status struct {
	CurrentUsage       int64
	Limits             map[string]int64
	Remaining          map[string]int64
	SubscriptionStatus string
	ResetDate          time.Time
	Plan               *subscription.Plan
}

// Tracker meters actions against plan limits.
type Tracker struct {
	store   Store
	subs    SubscriptionSource
	plans   PlanSource
	actions []string
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithActions sets the actions always reported by Status, even when unused.
func WithActions(actions ...string) Option {
	return func(t *Tracker) {
		if len(actions) > 0 {
			t.actions = actions
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a Tracker. Panics if a dependency is nil.
func NewTracker(store Store, subs SubscriptionSource, plans PlanSource, opts ...Option) *Tracker {
	if store == nil || subs == nil || plans == nil {
		panic("usage: store, subscription source and plan source are required")
	}
	t := &Tracker{
		store:   store,
		subs:    subs,
		plans:   plans,
		actions: []string{DefaultAction},
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.Component("usage"))
	return t
}

// Track records one action for the user if the plan limit allows it.
// When the limit is reached it returns the result with ErrLimitExceeded.
func (t *Tracker) Track(ctx context.Context, userID uuid.UUID, action string, metadata map[string]any) (*Result, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, ErrMissingAction
	}

	now := t.now()
	entry := Entry{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: now,
	}

	out, err := t.store.RecordWithinQuota(ctx, entry, t.quotaAt(now))
	if err != nil {
		metrics.ObserveUsage(action, metrics.OutcomeFailed)
		t.log.ErrorContext(ctx, "usage tracking failed",
			logger.UserID(userID), logger.Action(action), logger.Error(err))
		return nil, errors.Join(ErrTrackingFailed, err)
	}

	res := &Result{
		Action:    action,
		Used:      out.Used,
		Limit:     out.Quota.Limit,
		Remaining: remaining(out.Quota.Limit, out.Used),
	}
	if !out.Recorded {
		metrics.ObserveUsage(action, metrics.OutcomeExceeded)
		t.log.InfoContext(ctx, "usage limit reached",
			logger.UserID(userID), logger.Action(action), slog.Int64("limit", out.Quota.Limit))
		return res, ErrLimitExceeded
	}

	metrics.ObserveUsage(action, metrics.OutcomeRecorded)
	return res, nil
}

// quotaAt resolves the quota from the locked subscription's effective plan.
func (t *Tracker) quotaAt(now time.Time) QuotaFunc {
	return func(ctx context.Context, sub *subscription.Subscription, plans PlanLookup) (Quota, error) {
		plan, err := plans(ctx, sub.EffectivePriceID(now))
		if err != nil {
			return Quota{}, fmt.Errorf("resolve plan: %w", err)
		}
		return Quota{Limit: plan.UsageLimit, Since: sub.UsagePeriodStart(now)}, nil
	}
}

// Status reports usage, limits and remaining allowance per action.
func (t *Tracker) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	now := t.now()

	sub, err := t.subs.GetSubscription(ctx, userID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		sub = subscription.NewFreeSubscription(userID, now)
	} else if err != nil {
		return nil, err
	}

	plan, err := t.plans.GetPlanByPriceID(ctx, sub.EffectivePriceID(now))
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}

	counts, err := t.store.CountByAction(ctx, userID, sub.UsagePeriodStart(now))
	if err != nil {
		return nil, err
	}

	actions := slices.Clone(t.actions)
	for a := range counts {
		if !slices.Contains(actions, a) {
			actions = append(actions, a)
		}
	}

	st := &Status{
		Limits:             make(map[string]int64, len(actions)),
		Remaining:          make(map[string]int64, len(actions)),
		SubscriptionStatus: plan.Label(),
		ResetDate:          sub.UsageResetDate(now),
		Plan:               plan,
	}
	for _, a := range actions {
		st.CurrentUsage += counts[a]
		st.Limits[a] = plan.UsageLimit
		st.Remaining[a] = plan.Remaining(counts[a])
	}
	return st, nil
}

// Reset deletes all usage entries of the user.
func (t *Tracker) Reset(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := t.store.DeleteUsage(ctx, userID)
	if err != nil {
		return 0, err
	}
	t.log.InfoContext(ctx, "usage reset", logger.UserID(userID), slog.Int64("deleted", n))
	return n, nil
}

// Fill records entries for action until only leave remain under the limit
// and returns how many were added. Unlimited plans are left untouched.
func (t *Tracker) Fill(ctx context.Context, userID uuid.UUID, action string, leave int64) (int64, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		action = DefaultAction
	}

	st, err := t.Status(ctx, userID)
	if err != nil {
		return 0, err
	}
	left := st.Remaining[action] - max(leave, 0)
	if left <= 0 {
		return 0, nil
	}

	now := t.now()
	entries := make([]Entry, 0, left)
	for range left {
		entries = append(entries, Entry{
			ID:        ulid.Make().String(),
			UserID:    userID,
			Action:    action,
			Metadata:  map[string]any{"source": "max_out"},
			CreatedAt: now,
		})
	}
	if err := t.store.InsertUsage(ctx, entries); err != nil {
		return 0, err
	}
	return left, nil
}

func remaining(limit, used int64) int64 {
	if limit == subscription.Unlimited {
		return subscription.Unlimited
	}
	return max(limit-used, 0)
}
