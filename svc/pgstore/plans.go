package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

const planColumns = `id, name, price, currency, billing_interval, features, usage_limit, is_active, price_id, created_at, updated_at`

func scanPlan(row pgx.Row) (*subscription.Plan, error) {
	var (
		p        subscription.Plan
		interval string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &interval, &p.Features,
		&p.UsageLimit, &p.Active, &p.PriceID, &p.CreatedAt, &p.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	p.Interval = subscription.BillingInterval(interval)
	return &p, nil
}

func (s *Store) ListActivePlans(ctx context.Context) ([]subscription.Plan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+planColumns+` FROM pricing_plans WHERE is_active ORDER BY price ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []subscription.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (s *Store) GetPlanByPriceID(ctx context.Context, priceID string) (*subscription.Plan, error) {
	return getPlan(ctx, s.pool, priceID)
}

func getPlan(ctx context.Context, q querier, priceID string) (*subscription.Plan, error) {
	return scanPlan(q.QueryRow(ctx, `SELECT `+planColumns+` FROM pricing_plans WHERE price_id = $1`, priceID))
}

// UpsertPlan inserts the plan or updates the one with the same price id,
// filling ID and timestamps on p.
func (s *Store) UpsertPlan(ctx context.Context, p *subscription.Plan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	features := p.Features
	if features == nil {
		features = map[string]any{}
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO pricing_plans (id, name, price, currency, billing_interval, features, usage_limit, is_active, price_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (price_id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			billing_interval = EXCLUDED.billing_interval,
			features = EXCLUDED.features,
			usage_limit = EXCLUDED.usage_limit,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		p.ID, p.Name, p.Price, p.Currency, string(p.Interval), features, p.UsageLimit, p.Active, p.PriceID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}
