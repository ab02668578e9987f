// Package pg wraps pgx pool setup, goose migrations, transaction helpers and
// Postgres error classification.
//
// WithSerializableTx is the building block for read-then-write sequences
// that must not interleave, such as counting usage rows before inserting a
// new one.
package pg
