// Package store is the transactional persistence layer. Every handler runs
// its reads, invariant checks, writes, and audit appends through exactly one
// transaction obtained from WithTx; fan-out to workers happens after commit.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row. Callers use
// errors.Is instead of inspecting pgx internals.
var ErrNotFound = errors.New("not found")

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx, so the same
// store methods work inside and outside explicit transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store exposes typed queries over one DBTX.
type Store struct {
	db DBTX
}

func New(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx runs fn inside a single transaction. Rollback is deferred so every
// exit path (error, panic, cancellation) releases the connection; commit
// happens only when fn returns nil.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(*Store) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// touch is appended to every UPDATE: it refreshes updated_at and advances
// config_version to the current microsecond epoch. The +1 tiebreak keeps the
// version strictly increasing even when two writes land in the same
// microsecond, so workers polling the snapshot never observe a version
// going backwards.
const touch = `updated_at = now(),
	config_version = GREATEST(config_version + 1, (EXTRACT(EPOCH FROM clock_timestamp()) * 1000000)::BIGINT)`

// notFound translates pgx.ErrNoRows into ErrNotFound and passes every other
// error through unchanged.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, for callers that map duplicates to a conflict response.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// prefixCols qualifies each column in a comma-separated list with a table
// alias, for queries that join and need unambiguous column references.
func prefixCols(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
