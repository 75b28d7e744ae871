// Package store provides the transactional seam between the hierarchy tools
// and the SQL database: a shared executor interface, a commit-or-rollback
// transaction helper, and the schema migrations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrTxFailure wraps store-level failures of a multi-statement unit of work
// (begin or commit errors). Failures raised by the unit of work itself are
// returned unchanged so typed errors survive the transaction boundary.
var ErrTxFailure = errors.New("transaction failure")

// Execer is the statement surface shared by *sql.DB and *sql.Tx. Components
// that must run on the caller's transaction accept an Execer instead of a
// concrete handle.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IsUniqueViolation reports whether err is a postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Open connects to the database identified by databaseURL and verifies the
// connection.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// WithinTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Writes issued through the passed
// transaction apply in the order fn issues them.
func WithinTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxFailure, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("%w: rollback: %v", ErrTxFailure, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxFailure, err)
	}
	return nil
}
