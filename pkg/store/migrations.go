package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order.
//
// The uniqueness constraints are load-bearing: sibling-duplicate and
// global-duplicate checks in the tools are check-then-act and not protected
// by any application-level lock, so two concurrent creations of the same
// name are only kept out of the store by these constraints. Root roles store
// parent_id 0 rather than NULL so the sibling constraint covers roots too.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL DEFAULT '',
					credential VARCHAR(255) NOT NULL DEFAULT '#',
					given_name VARCHAR(255) NOT NULL DEFAULT '',
					family_name VARCHAR(255) NOT NULL DEFAULT '',
					options BIGINT NOT NULL DEFAULT 0,
					UNIQUE(username)
				);

				CREATE INDEX idx_users_email ON users(email);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					segment VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					parent_id BIGINT NOT NULL DEFAULT 0,
					options BIGINT NOT NULL DEFAULT 0,
					UNIQUE(parent_id, segment)
				);

				CREATE INDEX idx_roles_parent_id ON roles(parent_id);
			`,
		},
		{
			Version:     3,
			Description: "Create groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					options BIGINT NOT NULL DEFAULT 0
				);

				CREATE UNIQUE INDEX idx_groups_name_lower ON groups(lower(name));
			`,
		},
		{
			Version:     4,
			Description: "Create membership edge tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id),
					role_id BIGINT NOT NULL REFERENCES roles(id),
					PRIMARY KEY(user_id, role_id)
				);

				CREATE TABLE IF NOT EXISTS user_groups (
					user_id BIGINT NOT NULL REFERENCES users(id),
					group_id BIGINT NOT NULL REFERENCES groups(id),
					PRIMARY KEY(user_id, group_id)
				);

				CREATE TABLE IF NOT EXISTS group_roles (
					group_id BIGINT NOT NULL REFERENCES groups(id),
					role_id BIGINT NOT NULL REFERENCES roles(id),
					PRIMARY KEY(group_id, role_id)
				);

				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
				CREATE INDEX idx_user_groups_group_id ON user_groups(group_id);
				CREATE INDEX idx_group_roles_role_id ON group_roles(role_id);
			`,
		},
	}
}

// Migrate applies all pending migrations, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authgraph_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM authgraph_migrations`)
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO authgraph_migrations (version, description) VALUES ($1, $2)`,
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
