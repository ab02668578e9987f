package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

const subscriptionColumns = `id, user_id, price_id, status, cancel_at_period_end,
	current_period_start, current_period_end,
	COALESCE(provider_customer_id, ''), COALESCE(provider_subscription_id, ''),
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var (
		sub    subscription.Subscription
		status string
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PriceID, &status, &sub.CancelAtPeriodEnd,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.ProviderCustomerID, &sub.ProviderSubscriptionID,
		&sub.CreatedAt, &sub.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = subscription.Status(status)
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
}

func (s *Store) FindSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_id = $1`, providerSubscriptionID))
}

func (s *Store) FindSubscriptionByCustomerID(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_customer_id = $1
		ORDER BY updated_at DESC LIMIT 1`, customerID))
}

// UpdateSubscription applies fn to the row-locked subscription. The
// idempotency key, the update and the optional usage reset commit together.
func (s *Store) UpdateSubscription(ctx context.Context, userID uuid.UUID, opts subscription.UpdateOptions, fn func(*subscription.Subscription) (subscription.Change, error)) (*subscription.Subscription, error) {
	var out *subscription.Subscription
	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if opts.IdempotencyKey != "" {
			tag, err := tx.Exec(ctx,
				`INSERT INTO billing_events (key, user_id) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
				opts.IdempotencyKey, userID)
			if err != nil {
				if pg.IsForeignKeyViolationError(err) {
					return subscription.ErrUserNotFound
				}
				return fmt.Errorf("record billing event: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return subscription.ErrAlreadyProcessed
			}
		}

		sub, err := lockSubscription(ctx, tx, userID, time.Now())
		if err != nil {
			return err
		}

		change, err := fn(sub)
		if err != nil {
			return err
		}

		sub.UpdatedAt = time.Now()
		if err := saveSubscription(ctx, tx, sub); err != nil {
			return err
		}
		if change.ResetUsage {
			if _, err := tx.Exec(ctx, `DELETE FROM usage_logs WHERE user_id = $1`, userID); err != nil {
				return fmt.Errorf("reset usage: %w", err)
			}
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockSubscription selects the user's subscription FOR UPDATE, inserting a
// free one first when the user has none.
func lockSubscription(ctx context.Context, q querier, userID uuid.UUID, now time.Time) (*subscription.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 FOR UPDATE`

	sub, err := scanSubscription(q.QueryRow(ctx, query, userID))
	if !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return sub, err
	}

	if err := insertSubscription(ctx, q, subscription.NewFreeSubscription(userID, now)); err != nil {
		return nil, err
	}
	return scanSubscription(q.QueryRow(ctx, query, userID))
}

func insertSubscription(ctx context.Context, q querier, sub *subscription.Subscription) error {
	_, err := q.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, price_id, status, cancel_at_period_end,
			current_period_start, current_period_end, provider_customer_id, provider_subscription_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $10)
		ON CONFLICT (user_id) DO NOTHING`,
		sub.ID, sub.UserID, sub.PriceID, string(sub.Status), sub.CancelAtPeriodEnd,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.ProviderCustomerID, sub.ProviderSubscriptionID,
		sub.CreatedAt)
	switch {
	case pg.IsForeignKeyViolationError(err):
		return fmt.Errorf("%w: %w", subscription.ErrUserNotFound, err)
	case err != nil:
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func saveSubscription(ctx context.Context, q querier, sub *subscription.Subscription) error {
	_, err := q.Exec(ctx, `
		UPDATE subscriptions SET
			price_id = $2,
			status = $3,
			cancel_at_period_end = $4,
			current_period_start = $5,
			current_period_end = $6,
			provider_customer_id = NULLIF($7, ''),
			provider_subscription_id = NULLIF($8, ''),
			updated_at = $9
		WHERE user_id = $1`,
		sub.UserID, sub.PriceID, string(sub.Status), sub.CancelAtPeriodEnd,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.ProviderCustomerID, sub.ProviderSubscriptionID, sub.UpdatedAt)
	switch {
	case pg.IsForeignKeyViolationError(err):
		return fmt.Errorf("%w: %s", subscription.ErrPlanNotFound, sub.PriceID)
	case err != nil:
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}
