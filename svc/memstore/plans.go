package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

func (s *Store) ListActivePlans(ctx context.Context) ([]subscription.Plan, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	out := make([]subscription.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Active {
			out = append(out, *clonePlan(p))
		}
	}
	return out, nil
}

func (s *Store) GetPlanByPriceID(ctx context.Context, priceID string) (*subscription.Plan, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	return s.planLocked(ctx, priceID)
}

func (s *Store) UpsertPlan(ctx context.Context, p *subscription.Plan) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	now := s.now()
	if existing, ok := s.plans[p.PriceID]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.plans[p.PriceID] = *clonePlan(*p)
	return nil
}
