package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner executes a function inside a database transaction. Engines
// depend on this interface so tests can run the function with a nil tx
// against in-memory repositories.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

const maxConflictRetries = 3

// DB wraps a pgxpool.Pool as a TxRunner. Serialization and deadlock
// failures are retried a bounded number of times before being returned.
type DB struct {
	pool *pgxpool.Pool
}

func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (d *DB) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = pgx.BeginFunc(ctx, d.pool, fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
	}
	return err
}

// Pool exposes the underlying pool for read-only queries outside a
// transaction.
func (d *DB) Pool() *pgxpool.Pool { return d.pool }

// IsSerializationFailure reports whether err is a Postgres serialization
// or deadlock error (SQLSTATE 40001 / 40P01).
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
