package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txContextKey struct{}

// TxFromContext returns the transaction carried by ctx, or nil when the
// caller is not inside WithTx. Repositories check this before falling back
// to the pool so that multi-statement operations share one transaction.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx
}

// WithTx runs fn inside a single transaction. The transaction is placed on
// the context so repository calls made from fn join it automatically. The
// transaction commits when fn returns nil and rolls back otherwise.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// InsertOrFetch resolves the insert race on a unique constraint: try insert,
// and when a concurrent writer won the constraint, fetch the winner's row
// instead of failing. Any other insert error is returned as-is. fetch runs
// after a unique violation and must read by the conflicting key.
func InsertOrFetch[T any](ctx context.Context, insert func(ctx context.Context) (T, error), fetch func(ctx context.Context) (T, error)) (T, bool, error) {
	row, err := insert(ctx)
	if err == nil {
		return row, true, nil
	}
	if !IsUniqueViolation(err) {
		var zero T
		return zero, false, err
	}
	row, err = fetch(ctx)
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("fetch after unique violation: %w", err)
	}
	return row, false, nil
}
