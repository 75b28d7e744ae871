// Package guard performs integrity checks against the persistent store
// before guarded mutations run. Checks always read current persisted state,
// never a cache, to keep the staleness window as small as possible.
package guard

import (
	"context"
	"database/sql"
	"fmt"
)

// Option bits shared by roles, groups and users. The internal bit occupies
// the same position in every options column.
const (
	// OptionInternal marks an entity as protected from mutation and removal.
	OptionInternal int64 = 1 << 0

	// OptionFinal marks a role that may not acquire children.
	OptionFinal int64 = 1 << 1
)

// Guard checks whether an entity may be mutated.
type Guard struct {
	db *sql.DB
}

// New creates a guard reading from the given database.
func New(db *sql.DB) *Guard {
	return &Guard{db: db}
}

// AssertMutableRole fails with NotFoundError when the role row is absent and
// with ProtectedEntityError when its internal flag is set.
func (g *Guard) AssertMutableRole(ctx context.Context, id int64, path string) error {
	return g.assertMutable(ctx, `SELECT options FROM roles WHERE id = $1`, id, KindRole, path)
}

// AssertMutableGroup fails with NotFoundError when the group row is absent
// and with ProtectedEntityError when its internal flag is set.
func (g *Guard) AssertMutableGroup(ctx context.Context, id int64, name string) error {
	return g.assertMutable(ctx, `SELECT options FROM groups WHERE id = $1`, id, KindGroup, name)
}

// AssertMutableUser fails with NotFoundError when the user row is absent and
// with ProtectedEntityError when its internal flag is set.
func (g *Guard) AssertMutableUser(ctx context.Context, id int64, username string) error {
	return g.assertMutable(ctx, `SELECT options FROM users WHERE id = $1`, id, KindUser, username)
}

// AssertMutableUsername is the username-keyed variant of AssertMutableUser,
// used when only a username-identified handle is available.
func (g *Guard) AssertMutableUsername(ctx context.Context, username string) error {
	var options int64
	err := g.db.QueryRowContext(ctx, `SELECT options FROM users WHERE username = $1`, username).Scan(&options)
	if err == sql.ErrNoRows {
		return &NotFoundError{Kind: KindUser, Name: username}
	}
	if err != nil {
		return fmt.Errorf("failed to read user options: %w", err)
	}
	if options&OptionInternal != 0 {
		return &ProtectedEntityError{Kind: KindUser, Name: username}
	}
	return nil
}

func (g *Guard) assertMutable(ctx context.Context, query string, id int64, kind, name string) error {
	var options int64
	err := g.db.QueryRowContext(ctx, query, id).Scan(&options)
	if err == sql.ErrNoRows {
		return &NotFoundError{Kind: kind, Name: name}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s options: %w", kind, err)
	}
	if options&OptionInternal != 0 {
		return &ProtectedEntityError{Kind: kind, Name: name}
	}
	return nil
}

// AssertCanAcceptChild fails with FinalRoleError when the prospective parent
// carries the final flag. It operates on already-resolved values and does
// not touch the store.
func AssertCanAcceptChild(parentOptions int64, parentPath string) error {
	if parentOptions&OptionFinal != 0 {
		return &FinalRoleError{Path: parentPath}
	}
	return nil
}
