package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*subscription.User, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, subscription.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByAuthID(ctx context.Context, authUserID string) (*subscription.User, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	id, ok := s.byAuth[authUserID]
	if !ok {
		return nil, subscription.ErrUserNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *subscription.User, sub *subscription.Subscription) (*subscription.User, bool, error) {
	if err := s.lock(ctx); err != nil {
		return nil, false, err
	}
	defer s.unlock()

	if id, ok := s.byAuth[u.AuthUserID]; ok {
		existing := s.users[id]
		return &existing, false, nil
	}
	if _, ok := s.plans[sub.PriceID]; !ok {
		return nil, false, subscription.ErrPlanNotFound
	}

	s.users[u.ID] = *u
	s.byAuth[u.AuthUserID] = u.ID
	s.subs[u.ID] = *sub

	created := *u
	return &created, true, nil
}

func (s *Store) DeleteUserByAuthID(ctx context.Context, authUserID string) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	id, ok := s.byAuth[authUserID]
	if !ok {
		return subscription.ErrUserNotFound
	}
	delete(s.byAuth, authUserID)
	delete(s.users, id)
	delete(s.subs, id)
	delete(s.usage, id)
	return nil
}
