package users

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quartzcms/authgraph/pkg/store"
)

const userColumns = `id, username, email, credential, given_name, family_name, options`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Credential, &u.GivenName, &u.FamilyName, &u.Options)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func getUserByUsername(ctx context.Context, ex store.Execer, username string) (*User, error) {
	return scanUser(ex.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func getUserByID(ctx context.Context, ex store.Execer, id int64) (*User, error) {
	return scanUser(ex.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func getUserByEmail(ctx context.Context, ex store.Execer, email string) (*User, error) {
	return scanUser(ex.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) LIMIT 1`, email))
}

func insertUser(ctx context.Context, ex store.Execer, u *User) (int64, error) {
	var id int64
	err := ex.QueryRowContext(ctx, `
		INSERT INTO users (username, credential, email, given_name, family_name, options)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, u.Username, u.Credential, u.Email, u.GivenName, u.FamilyName, u.Options).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return id, nil
}
