package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
	"github.com/dmitrymomot/saasbilling/svc/memstore"
)

func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.UpsertPlan(context.Background(), &subscription.Plan{
		Name: "Free", PriceID: subscription.FreePriceID, UsageLimit: 2, Active: true,
	}))
	return s
}

func TestStore_CreateUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("requires the subscription plan", func(t *testing.T) {
		t.Parallel()
		s := memstore.New()
		u := &subscription.User{ID: uuid.New(), AuthUserID: "a"}

		_, _, err := s.CreateUser(ctx, u, subscription.NewFreeSubscription(u.ID, time.Now()))
		assert.ErrorIs(t, err, subscription.ErrPlanNotFound)
	})

	t.Run("idempotent by auth id", func(t *testing.T) {
		t.Parallel()
		s := seeded(t)
		u := &subscription.User{ID: uuid.New(), AuthUserID: "a"}

		_, created, err := s.CreateUser(ctx, u, subscription.NewFreeSubscription(u.ID, time.Now()))
		require.NoError(t, err)
		assert.True(t, created)

		other := &subscription.User{ID: uuid.New(), AuthUserID: "a"}
		got, created, err := s.CreateUser(ctx, other, subscription.NewFreeSubscription(other.ID, time.Now()))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("delete removes everything", func(t *testing.T) {
		t.Parallel()
		s := seeded(t)
		u := &subscription.User{ID: uuid.New(), AuthUserID: "b"}
		_, _, err := s.CreateUser(ctx, u, subscription.NewFreeSubscription(u.ID, time.Now()))
		require.NoError(t, err)

		require.NoError(t, s.DeleteUserByAuthID(ctx, "b"))
		_, err = s.GetSubscription(ctx, u.ID)
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
		assert.ErrorIs(t, s.DeleteUserByAuthID(ctx, "b"), subscription.ErrUserNotFound)
	})
}

func TestStore_UpdateSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := seeded(t)
	u := &subscription.User{ID: uuid.New(), AuthUserID: "c"}
	_, _, err := s.CreateUser(ctx, u, subscription.NewFreeSubscription(u.ID, time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.InsertUsage(ctx, []usage.Entry{{ID: "1", UserID: u.ID, Action: "generation", CreatedAt: time.Now()}}))

	opts := subscription.UpdateOptions{IdempotencyKey: "event:1"}
	sub, err := s.UpdateSubscription(ctx, u.ID, opts, func(sub *subscription.Subscription) (subscription.Change, error) {
		sub.ProviderCustomerID = "cus_1"
		return subscription.Change{ResetUsage: true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.ProviderCustomerID)

	counts, err := s.CountByAction(ctx, u.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, err = s.UpdateSubscription(ctx, u.ID, opts, func(*subscription.Subscription) (subscription.Change, error) {
		t.Fatal("must not run for a processed key")
		return subscription.Change{}, nil
	})
	assert.ErrorIs(t, err, subscription.ErrAlreadyProcessed)

	found, err := s.FindSubscriptionByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.UserID)

	_, err = s.UpdateSubscription(ctx, uuid.New(), subscription.UpdateOptions{}, func(*subscription.Subscription) (subscription.Change, error) {
		return subscription.Change{}, nil
	})
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)
}
