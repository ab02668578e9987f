package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool and pgx.Tx.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn inside a read-committed transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func WithTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, fn)
}

// WithSerializableTx runs fn at SERIALIZABLE isolation and retries the whole
// transaction when Postgres reports a serialization failure or deadlock.
// fn must be safe to run more than once.
func WithSerializableTx(ctx context.Context, db TxBeginner, attempts int, fn func(tx pgx.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}

	var lastErr error
	for range max(attempts, 1) {
		err := pgx.BeginTxFunc(ctx, db, opts, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return errors.Join(ErrTxRetriesExhausted, lastErr)
}
