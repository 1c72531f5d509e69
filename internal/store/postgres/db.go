package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// DB implements store.DB on a Postgres connection pool.
type DB struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewDB returns a new DB.
func NewDB(db *sqlx.DB, clk clock.Clock) *DB {
	return &DB{db: db, clock: clk}
}

// InTx runs fn inside a READ COMMITTED transaction. Row locks taken by
// LockItem are held until fn returns.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Tx{tx: tx, clock: d.clock}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Tx implements store.Tx on a single sqlx transaction.
type Tx struct {
	tx    *sqlx.Tx
	clock clock.Clock
}

var _ store.Tx = (*Tx)(nil)

// get wraps GetContext, translating sql.ErrNoRows into store.ErrNotFound.
func (t *Tx) get(ctx context.Context, dest any, what, query string, args ...any) error {
	err := t.tx.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("getting %s: %w", what, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("getting %s: %w", what, err)
	}
	return nil
}

// exec runs a write and reports store.ErrNotFound when no row matched.
func (t *Tx) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// insertErr wraps an insert failure, mapping duplicate keys to
// store.ErrConflict.
func insertErr(what string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", what, pqErr.Constraint, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}
