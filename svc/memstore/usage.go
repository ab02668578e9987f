package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
)

func (s *Store) RecordWithinQuota(ctx context.Context, entry usage.Entry, quota usage.QuotaFunc) (usage.Outcome, error) {
	if err := s.lock(ctx); err != nil {
		return usage.Outcome{}, err
	}
	defer s.unlock()

	sub, err := s.subscriptionLocked(entry.UserID)
	if err != nil {
		return usage.Outcome{}, err
	}

	q, err := quota(ctx, &sub, s.planLocked)
	if err != nil {
		return usage.Outcome{}, err
	}

	var used int64
	for _, e := range s.usage[entry.UserID] {
		if e.Action == entry.Action && !e.CreatedAt.Before(q.Since) {
			used++
		}
	}

	out := usage.Outcome{Used: used, Quota: q}
	if q.Limit >= 0 && used >= q.Limit {
		return out, nil
	}

	s.usage[entry.UserID] = append(s.usage[entry.UserID], cloneEntry(entry))
	out.Used++
	out.Recorded = true
	return out, nil
}

// planLocked looks up a plan while the caller holds the lock.
func (s *Store) planLocked(_ context.Context, priceID string) (*subscription.Plan, error) {
	p, ok := s.plans[priceID]
	if !ok {
		return nil, subscription.ErrPlanNotFound
	}
	return clonePlan(p), nil
}

func (s *Store) CountByAction(ctx context.Context, userID uuid.UUID, since time.Time) (map[string]int64, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	counts := make(map[string]int64)
	for _, e := range s.usage[userID] {
		if !e.CreatedAt.Before(since) {
			counts[e.Action]++
		}
	}
	return counts, nil
}

func (s *Store) InsertUsage(ctx context.Context, entries []usage.Entry) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	for _, e := range entries {
		s.usage[e.UserID] = append(s.usage[e.UserID], cloneEntry(e))
	}
	return nil
}

func (s *Store) DeleteUsage(ctx context.Context, userID uuid.UUID) (int64, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.unlock()

	n := int64(len(s.usage[userID]))
	delete(s.usage, userID)
	return n, nil
}
