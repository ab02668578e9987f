package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
)

// RecordWithinQuota runs the quota check and the insert in one serializable
// transaction holding the subscription row lock, retried on serialization
// failures.
func (s *Store) RecordWithinQuota(ctx context.Context, entry usage.Entry, quota usage.QuotaFunc) (usage.Outcome, error) {
	var out usage.Outcome
	err := pg.WithSerializableTx(ctx, s.pool, s.txAttempts, func(tx pgx.Tx) error {
		out = usage.Outcome{}

		sub, err := lockSubscription(ctx, tx, entry.UserID, entry.CreatedAt)
		if err != nil {
			return err
		}

		q, err := quota(ctx, sub, func(ctx context.Context, priceID string) (*subscription.Plan, error) {
			return getPlan(ctx, tx, priceID)
		})
		if err != nil {
			return err
		}
		out.Quota = q

		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM usage_logs WHERE user_id = $1 AND action = $2 AND created_at >= $3`,
			entry.UserID, entry.Action, q.Since,
		).Scan(&out.Used); err != nil {
			return fmt.Errorf("count usage: %w", err)
		}

		if q.Limit != subscription.Unlimited && out.Used >= q.Limit {
			return nil
		}

		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		out.Used++
		out.Recorded = true
		return nil
	})
	if err != nil {
		return usage.Outcome{}, err
	}
	return out, nil
}

func insertEntry(ctx context.Context, q querier, e usage.Entry) error {
	_, err := q.Exec(ctx,
		`INSERT INTO usage_logs (id, user_id, action, metadata, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.Action, e.Metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

func (s *Store) CountByAction(ctx context.Context, userID uuid.UUID, since time.Time) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action, COUNT(*) FROM usage_logs WHERE user_id = $1 AND created_at >= $2 GROUP BY action`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("count usage: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			action string
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan usage count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

func (s *Store) InsertUsage(ctx context.Context, entries []usage.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.ID, e.UserID, e.Action, e.Metadata, e.CreatedAt})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"usage_logs"},
		[]string{"id", "user_id", "action", "metadata", "created_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

func (s *Store) DeleteUsage(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM usage_logs WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
