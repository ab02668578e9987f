// Package pgstore is the Postgres implementation of the subscription, plan
// and usage stores, built on pgx with goose migrations embedded.
package pgstore

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	"github.com/dmitrymomot/saasbilling/pkg/usage"
)

// Migrations holds the schema, applied with pg.Migrate(ctx, pool, Migrations, MigrationsDir, ...).
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"

var (
	_ subscription.Store     = (*Store)(nil)
	_ subscription.PlanStore = (*Store)(nil)
	_ usage.Store            = (*Store)(nil)
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is backed by a pgx pool.
type Store struct {
	pool       *pgxpool.Pool
	txAttempts int
}

// New returns a Store. txAttempts bounds retries of serializable
// transactions; values below one mean a single attempt.
func New(pool *pgxpool.Pool, txAttempts int) *Store {
	return &Store{pool: pool, txAttempts: max(txAttempts, 1)}
}
