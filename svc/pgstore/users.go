package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
)

const userColumns = `id, auth_user_id, email, name, email_verified, phone_verified, created_at, updated_at`

func scanUser(row pgx.Row) (*subscription.User, error) {
	var u subscription.User
	err := row.Scan(&u.ID, &u.AuthUserID, &u.Email, &u.Name, &u.EmailVerified, &u.PhoneVerified, &u.CreatedAt, &u.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*subscription.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByAuthID(ctx context.Context, authUserID string) (*subscription.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE auth_user_id = $1`, authUserID))
}

// CreateUser inserts the user and its subscription in one transaction. A
// concurrent insert of the same auth id resolves to the existing row.
func (s *Store) CreateUser(ctx context.Context, u *subscription.User, sub *subscription.Subscription) (*subscription.User, bool, error) {
	var (
		out     *subscription.User
		created bool
	)
	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = scanUser(tx.QueryRow(ctx, `
			INSERT INTO users (id, auth_user_id, email, name, email_verified, phone_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (auth_user_id) DO NOTHING
			RETURNING `+userColumns,
			u.ID, u.AuthUserID, u.Email, u.Name, u.EmailVerified, u.PhoneVerified, u.CreatedAt))
		if errors.Is(err, subscription.ErrUserNotFound) {
			out, err = scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE auth_user_id = $1`, u.AuthUserID))
			return err
		}
		if err != nil {
			return err
		}
		created = true
		return insertSubscription(ctx, tx, sub)
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *Store) DeleteUserByAuthID(ctx context.Context, authUserID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE auth_user_id = $1`, authUserID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrUserNotFound
	}
	return nil
}
