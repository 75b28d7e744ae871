// Package credentials hashes and installs user credentials. It is the only
// writer of the credential column; the user tool stores a sentinel value
// and delegates here.
package credentials

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = bcrypt.DefaultCost

// Service installs bcrypt-hashed credentials for existing user rows.
type Service struct {
	db   *sql.DB
	cost int
}

// NewService creates a credential service. A cost outside the valid bcrypt
// range falls back to DefaultCost.
func NewService(db *sql.DB, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Service{db: db, cost: cost}
}

// InstallPassword hashes the plain credential and writes it to the user's
// row. An unknown username is an error so callers can undo the account
// creation that preceded the call.
func (s *Service) InstallPassword(ctx context.Context, username, plainCredential string) error {
	if plainCredential == "" {
		return fmt.Errorf("empty credential for %s", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainCredential), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash credential: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET credential = $1 WHERE username = $2`, string(hash), username)
	if err != nil {
		return fmt.Errorf("failed to store credential for %s: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to store credential for %s: %w", username, err)
	}
	if n == 0 {
		return fmt.Errorf("no such user %s", username)
	}
	return nil
}

// Verify compares a plain credential against the stored hash for the
// username. The sentinel credential never verifies.
func (s *Service) Verify(ctx context.Context, username, plainCredential string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT credential FROM users WHERE username = $1`, username).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load credential for %s: %w", username, err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(stored), []byte(plainCredential))
	if err == bcrypt.ErrMismatchedHashAndPassword || err == bcrypt.ErrHashTooShort {
		return false, nil
	}
	if err != nil {
		return false, nil
	}
	return true, nil
}
