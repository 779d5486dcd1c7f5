// Package store provides the data access layer on top of pgx/v5. All queries
// are hand-written SQL executed through a *pgxpool.Pool; multi-statement
// operations run inside pgx native transactions via withTx.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central data access object.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool (used by /healthz).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// withTx runs fn inside a read-write transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return s.withTxOptions(ctx, pgx.TxOptions{}, fn)
}

// withSnapshotTx runs fn inside a REPEATABLE READ, READ ONLY transaction so
// that every query fn issues observes the same snapshot.
func (s *Store) withSnapshotTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return s.withTxOptions(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (s *Store) withTxOptions(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on panic or fn error
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// notFound reports whether err is pgx.ErrNoRows. Lookups return (nil, nil) in that case.
func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
