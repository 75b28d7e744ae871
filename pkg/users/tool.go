package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quartzcms/authgraph/pkg/events"
	"github.com/quartzcms/authgraph/pkg/groups"
	"github.com/quartzcms/authgraph/pkg/guard"
	"github.com/quartzcms/authgraph/pkg/observability"
	"github.com/quartzcms/authgraph/pkg/roles"
	"github.com/quartzcms/authgraph/pkg/session"
	"github.com/quartzcms/authgraph/pkg/store"
)

// ErrNoCurrentUser is returned by operations that act on the pinned current
// user when none is pinned.
var ErrNoCurrentUser = fmt.Errorf("no current user")

// Tool owns user accounts and their grant edges. Lookups go through a
// process-local identity cache with negative entries; mutations follow the
// same error asymmetry as the role and group tools. Assignment operations
// act on the pinned current user.
type Tool struct {
	db          *sql.DB
	guard       *guard.Guard
	invalidator *session.Invalidator
	notifier    events.Notifier
	roleTool    *roles.Tool
	groupTool   *groups.Tool
	passwords   PasswordResetService
	metrics     *observability.Metrics
	log         *logrus.Logger
	cache       *identityCache

	mu      sync.Mutex
	current *User
}

// NewTool creates a user tool. The role and group tools resolve grant
// references; the password service installs real credentials for new users.
// A nil notifier disables event delivery and a nil logger falls back to a
// default logrus logger.
func NewTool(db *sql.DB, roleTool *roles.Tool, groupTool *groups.Tool, passwords PasswordResetService, notifier events.Notifier, log *logrus.Logger) *Tool {
	if notifier == nil {
		notifier = events.Nop{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Tool{
		db:          db,
		guard:       guard.New(db),
		invalidator: session.New(),
		notifier:    notifier,
		roleTool:    roleTool,
		groupTool:   groupTool,
		passwords:   passwords,
		log:         log,
		cache:       newIdentityCache(),
	}
}

// SetMetrics installs mutation metrics. Nil is valid.
func (t *Tool) SetMetrics(m *observability.Metrics) {
	t.metrics = m
}

// SetCurrentUser pins the user that assignment operations act on and
// returns the previously pinned user, so callers can restore it.
func (t *Tool) SetCurrentUser(u *User) *User {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.current
	t.current = u
	return prev
}

// CurrentUser returns the pinned current user, or nil.
func (t *Tool) CurrentUser() *User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// UserID returns the id of the pinned current user.
func (t *Tool) UserID(ctx context.Context) (int64, error) {
	u := t.CurrentUser()
	if u == nil {
		return 0, ErrNoCurrentUser
	}
	return u.ID, nil
}

// GetUser resolves a user reference by id, by username, by email address
// (both case insensitive), or passes an already resolved user through.
// Resolved users are cached under every identifier they carry; a not-found
// result is cached negatively so absent identifiers do not hit the store
// repeatedly. Store errors other than not-found are never cached.
func (t *Tool) GetUser(ctx context.Context, ref Ref) (*User, error) {
	if ref.User != nil {
		return ref.User, nil
	}

	switch {
	case ref.ID != 0:
		return t.resolve(ctx, keyID(ref.ID), fmt.Sprintf("#%d", ref.ID), func() (*User, error) {
			return getUserByID(ctx, t.db, ref.ID)
		})
	case ref.Username != "":
		return t.resolve(ctx, keyName(ref.Username), ref.Username, func() (*User, error) {
			return getUserByUsername(ctx, t.db, ref.Username)
		})
	case ref.Email != "":
		return t.resolve(ctx, keyEmail(ref.Email), ref.Email, func() (*User, error) {
			return getUserByEmail(ctx, t.db, ref.Email)
		})
	}
	return nil, &guard.NotFoundError{Kind: guard.KindUser, Name: "(empty reference)"}
}

func (t *Tool) resolve(ctx context.Context, key, name string, load func() (*User, error)) (*User, error) {
	if u, ok, negative := t.cache.lookup(key); ok || negative {
		t.metrics.RecordCacheLookup("users", true)
		if negative {
			return nil, &guard.NotFoundError{Kind: guard.KindUser, Name: name}
		}
		return u, nil
	}
	t.metrics.RecordCacheLookup("users", false)

	u, err := load()
	if err == sql.ErrNoRows {
		t.cache.markMissing(key)
		return nil, &guard.NotFoundError{Kind: guard.KindUser, Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	t.cache.register(u)
	return u, nil
}

// Invalidate drops the identity cache, including negative entries.
func (t *Tool) Invalidate() {
	t.cache.reset()
}

// CreateUser creates a user account. The row is first inserted with the
// sentinel credential, then the password service installs the real one; if
// installation fails the row is deleted again so no account with the
// sentinel survives. A username collision fails with DuplicateNameError.
//
// The email login option is derived from the attributes: a user created
// with an email address may log in with it unless LoginWithEmail is
// explicitly false. Requested group memberships and role grants are
// assigned after the credential installed, and the internal flag, which
// plain options input can never carry, is applied last.
func (t *Tool) CreateUser(ctx context.Context, username, plainCredential string, attrs CreateUserAttrs) (*User, error) {
	loginWithEmail := attrs.Email != ""
	if attrs.LoginWithEmail != nil {
		loginWithEmail = *attrs.LoginWithEmail
	}

	var options int64
	if loginWithEmail {
		options |= OptionCanLoginWithEmail
	}

	user := &User{
		Username:   username,
		Email:      attrs.Email,
		Credential: SentinelCredential,
		GivenName:  attrs.GivenName,
		FamilyName: attrs.FamilyName,
		Options:    options,
	}

	id, err := insertUser(ctx, t.db, user)
	if err != nil {
		t.metrics.RecordMutation("user", "add", false)
		if store.IsUniqueViolation(err) {
			return nil, &guard.DuplicateNameError{Kind: guard.KindUser, Name: username}
		}
		return nil, err
	}
	user.ID = id

	if err := t.passwords.InstallPassword(ctx, username, plainCredential); err != nil {
		// The sentinel credential must not persist; undo the insert.
		if _, delErr := t.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); delErr != nil {
			t.log.WithError(delErr).WithField("username", username).Error("failed to delete user after credential installation failure")
		}
		t.metrics.RecordMutation("user", "add", false)
		return nil, fmt.Errorf("failed to install credential for %s: %w", username, err)
	}

	t.cache.register(user)
	t.metrics.RecordMutation("user", "add", true)

	t.notifier.Notify(ctx, events.New(events.TypeUserAdded, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	}))

	if len(attrs.Groups) > 0 || len(attrs.Roles) > 0 {
		// Assignments act on the pinned current user; pin the new account
		// for their duration and restore the previous pin after.
		prev := t.SetCurrentUser(user)
		if len(attrs.Groups) > 0 {
			if _, err := t.AssignGroups(ctx, attrs.Groups, false); err != nil {
				t.log.WithError(err).WithField("username", username).Error("failed to assign groups to new user")
			}
		}
		if len(attrs.Roles) > 0 {
			if _, err := t.AssignRoles(ctx, attrs.Roles, false); err != nil {
				t.log.WithError(err).WithField("username", username).Error("failed to assign roles to new user")
			}
		}
		t.SetCurrentUser(prev)
	}

	if attrs.Internal {
		// Applied after the normal option handling so plain callers cannot
		// sneak the flag in through options.
		if _, err := t.db.ExecContext(ctx, `UPDATE users SET options = options | $1 WHERE id = $2`, OptionInternal, id); err != nil {
			return nil, fmt.Errorf("failed to mark user %s internal: %w", username, err)
		}
		user.Options |= OptionInternal
	}

	return user, nil
}

// RemoveUser removes a user together with its memberships and role grants
// in one transaction. Integrity violations raise typed errors; transaction
// failures are logged and flattened to a false return.
//
// The user.removed event fires before the transaction opens; the removal
// may yet roll back.
func (t *Tool) RemoveUser(ctx context.Context, ref Ref) (bool, error) {
	user, err := t.GetUser(ctx, ref)
	if err != nil {
		return false, err
	}
	if err := t.guard.AssertMutableUser(ctx, user.ID, user.Username); err != nil {
		return false, err
	}

	t.notifier.Notify(ctx, events.New(events.TypeUserRemoved, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	}))

	err = store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = $1`, user.ID); err != nil {
			return fmt.Errorf("failed to delete memberships of %s: %w", user.Username, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, user.ID); err != nil {
			return fmt.Errorf("failed to delete role grants of %s: %w", user.Username, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, user.ID); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", user.Username, err)
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("username", user.Username).Error("failed to remove user")
		t.metrics.RecordMutation("user", "remove", false)
		return false, nil
	}

	t.cache.evict(user)
	if cur := t.CurrentUser(); cur != nil && cur.ID == user.ID {
		t.SetCurrentUser(nil)
	}
	t.metrics.RecordMutation("user", "remove", true)
	return true, nil
}

// AssignGroups fully replaces the current user's group memberships with the
// resolved subset of refs: existing membership rows are deleted first, then
// one row is inserted per resolvable reference. Unresolvable references are
// skipped silently. With invalidateSelf set the user is flagged for session
// invalidation inside the same transaction. Integrity violations raise
// typed errors; transaction failures are logged and flattened to a false
// return.
func (t *Tool) AssignGroups(ctx context.Context, groupRefs []groups.Ref, invalidateSelf bool) (bool, error) {
	user := t.CurrentUser()
	if user == nil {
		return false, ErrNoCurrentUser
	}
	if err := t.guard.AssertMutableUser(ctx, user.ID, user.Username); err != nil {
		return false, err
	}

	var joined []string
	err := store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		// Replacement order matters: stale membership rows must not survive.
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = $1`, user.ID); err != nil {
			return fmt.Errorf("failed to clear memberships of %s: %w", user.Username, err)
		}

		for _, gr := range groupRefs {
			group, err := t.groupTool.GetGroup(ctx, gr)
			if err != nil {
				// Only a missing group is skippable; a store failure must
				// roll back or the delete above wipes the memberships.
				var notFound *guard.NotFoundError
				if errors.As(err, &notFound) {
					continue
				}
				return fmt.Errorf("failed to resolve group for %s: %w", user.Username, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_groups (user_id, group_id) VALUES ($1, $2)`,
				user.ID, group.ID,
			); err != nil {
				return fmt.Errorf("failed to add %s to group %s: %w", user.Username, group.Name, err)
			}
			joined = append(joined, group.Name)
		}

		if invalidateSelf {
			return t.invalidator.MarkUser(ctx, tx, user.ID)
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("username", user.Username).Error("failed to assign groups to user")
		t.metrics.RecordMutation("user", "assign_groups", false)
		return false, nil
	}

	t.metrics.RecordMutation("user", "assign_groups", true)
	if invalidateSelf {
		t.metrics.RecordInvalidation()
	}
	t.notifier.Notify(ctx, events.New(events.TypeUserUpdated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"groups":   joined,
	}))
	return true, nil
}

// AssignRoles fully replaces the current user's direct role grants with the
// resolved subset of refs, following the same replacement and error
// semantics as AssignGroups.
func (t *Tool) AssignRoles(ctx context.Context, roleRefs []roles.Ref, invalidateSelf bool) (bool, error) {
	user := t.CurrentUser()
	if user == nil {
		return false, ErrNoCurrentUser
	}
	if err := t.guard.AssertMutableUser(ctx, user.ID, user.Username); err != nil {
		return false, err
	}

	var granted []string
	err := store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, user.ID); err != nil {
			return fmt.Errorf("failed to clear role grants of %s: %w", user.Username, err)
		}

		for _, rr := range roleRefs {
			role, err := t.roleTool.GetRole(ctx, rr)
			if err != nil {
				var notFound *guard.NotFoundError
				if errors.As(err, &notFound) {
					continue
				}
				return fmt.Errorf("failed to resolve role for %s: %w", user.Username, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`,
				user.ID, role.ID,
			); err != nil {
				return fmt.Errorf("failed to grant role %s to %s: %w", role.Path, user.Username, err)
			}
			granted = append(granted, role.Path)
		}

		if invalidateSelf {
			return t.invalidator.MarkUser(ctx, tx, user.ID)
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("username", user.Username).Error("failed to assign roles to user")
		t.metrics.RecordMutation("user", "assign_roles", false)
		return false, nil
	}

	t.metrics.RecordMutation("user", "assign_roles", true)
	if invalidateSelf {
		t.metrics.RecordInvalidation()
	}
	t.notifier.Notify(ctx, events.New(events.TypeUserUpdated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"roles":    granted,
	}))
	return true, nil
}

// GroupIDs returns the ids of the groups the user is a member of.
func (t *Tool) GroupIDs(ctx context.Context, ref Ref) ([]int64, error) {
	user, err := t.GetUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	return t.edgeIDs(ctx, `SELECT group_id FROM user_groups WHERE user_id = $1 ORDER BY group_id`, user.ID)
}

// RoleIDs returns the ids of the roles directly granted to the user. Roles
// granted through group membership are not included.
func (t *Tool) RoleIDs(ctx context.Context, ref Ref) ([]int64, error) {
	user, err := t.GetUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	return t.edgeIDs(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, user.ID)
}

func (t *Tool) edgeIDs(ctx context.Context, query string, userID int64) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grant edges: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan grant edge: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
