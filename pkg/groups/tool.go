// Package groups owns flat groups and their role assignments. Groups have
// no hierarchy; a group grants the roles assigned to it to every member.
package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quartzcms/authgraph/pkg/events"
	"github.com/quartzcms/authgraph/pkg/guard"
	"github.com/quartzcms/authgraph/pkg/observability"
	"github.com/quartzcms/authgraph/pkg/roles"
	"github.com/quartzcms/authgraph/pkg/session"
	"github.com/quartzcms/authgraph/pkg/store"
)

// Tool owns flat groups and their role grants. It mirrors the role tool's
// integrity and cascade pattern without the hierarchy: AddGroup and
// UpdateGroup raise typed errors, RemoveGroup and AssignRoles flatten
// transaction failures to logged booleans.
type Tool struct {
	db          *sql.DB
	guard       *guard.Guard
	invalidator *session.Invalidator
	notifier    events.Notifier
	roleTool    *roles.Tool
	metrics     *observability.Metrics
	log         *logrus.Logger
	cache       *groupCache
}

// NewTool creates a group tool. The role tool resolves role references in
// AssignRoles. A nil notifier disables event delivery and a nil logger
// falls back to a default logrus logger.
func NewTool(db *sql.DB, roleTool *roles.Tool, notifier events.Notifier, log *logrus.Logger) *Tool {
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
		log:         log,
		cache:       newGroupCache(),
	}
}

// SetMetrics installs mutation metrics. Nil is valid.
func (t *Tool) SetMetrics(m *observability.Metrics) {
	t.metrics = m
}

// GetGroup resolves a group reference by id, by name (case insensitive), or
// passes an already resolved group through. Cache misses fall back to the
// store and register the loaded group.
func (t *Tool) GetGroup(ctx context.Context, ref Ref) (*Group, error) {
	if ref.Group != nil {
		return ref.Group, nil
	}

	if ref.ID != 0 {
		if g, ok := t.cache.lookupID(ref.ID); ok {
			t.metrics.RecordCacheLookup("groups", true)
			return g, nil
		}
		t.metrics.RecordCacheLookup("groups", false)
		return t.loadGroup(ctx, `SELECT id, name, description, options FROM groups WHERE id = $1`, ref.ID, fmt.Sprintf("#%d", ref.ID))
	}

	if ref.Name != "" {
		if g, ok := t.cache.lookupName(ref.Name); ok {
			t.metrics.RecordCacheLookup("groups", true)
			return g, nil
		}
		t.metrics.RecordCacheLookup("groups", false)
		return t.loadGroup(ctx, `SELECT id, name, description, options FROM groups WHERE lower(name) = lower($1)`, ref.Name, ref.Name)
	}

	return nil, &guard.NotFoundError{Kind: guard.KindGroup, Name: "(empty reference)"}
}

func (t *Tool) loadGroup(ctx context.Context, query string, arg any, name string) (*Group, error) {
	var g Group
	err := t.db.QueryRowContext(ctx, query, arg).Scan(&g.ID, &g.Name, &g.Description, &g.Options)
	if err == sql.ErrNoRows {
		return nil, &guard.NotFoundError{Kind: guard.KindGroup, Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	t.cache.register(&g)
	return &g, nil
}

// AddGroup creates a group. Names collide globally and case-insensitively;
// a collision fails with DuplicateNameError. The internal flag is stripped
// from caller-supplied options.
func (t *Tool) AddGroup(ctx context.Context, name, description string, options int64) (*Group, error) {
	var existing int64
	err := t.db.QueryRowContext(ctx, `SELECT id FROM groups WHERE lower(name) = lower($1) LIMIT 1`, name).Scan(&existing)
	if err == nil {
		return nil, &guard.DuplicateNameError{Kind: guard.KindGroup, Name: name}
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check group name: %w", err)
	}

	// Callers may never mint a protected group.
	options &^= OptionInternal

	var id int64
	err = t.db.QueryRowContext(ctx,
		`INSERT INTO groups (name, description, options) VALUES ($1, $2, $3) RETURNING id`,
		name, description, options,
	).Scan(&id)
	if err != nil {
		t.metrics.RecordMutation("group", "add", false)
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}

	group := &Group{ID: id, Name: name, Description: description, Options: options}
	t.cache.register(group)
	t.metrics.RecordMutation("group", "add", true)

	t.notifier.Notify(ctx, events.New(events.TypeGroupAdded, map[string]any{
		"id":   group.ID,
		"name": group.Name,
	}))

	return group, nil
}

// UpdateGroup applies a partial update. A rename into an existing name
// fails with DuplicateNameError; the fields are persisted together in one
// transaction. Integrity and duplicate violations raise typed errors;
// persistence failures are logged and flattened to a false return.
func (t *Tool) UpdateGroup(ctx context.Context, group *Group, change GroupChange) (bool, error) {
	if err := t.guard.AssertMutableGroup(ctx, group.ID, group.Name); err != nil {
		return false, err
	}

	if change.Name != nil {
		var existing int64
		err := t.db.QueryRowContext(ctx,
			`SELECT id FROM groups WHERE lower(name) = lower($1) AND id <> $2 LIMIT 1`,
			*change.Name, group.ID,
		).Scan(&existing)
		if err == nil {
			return false, &guard.DuplicateNameError{Kind: guard.KindGroup, Name: *change.Name}
		}
		if err != sql.ErrNoRows {
			return false, fmt.Errorf("failed to check group name: %w", err)
		}
	}

	if change.Options != nil {
		// Cannot self-grant protection.
		options := *change.Options &^ OptionInternal
		change.Options = &options
	}

	err := store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		if change.Name != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE groups SET name = $1 WHERE id = $2`, *change.Name, group.ID); err != nil {
				return fmt.Errorf("failed to update group name: %w", err)
			}
		}
		if change.Description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE groups SET description = $1 WHERE id = $2`, *change.Description, group.ID); err != nil {
				return fmt.Errorf("failed to update group description: %w", err)
			}
		}
		if change.Options != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE groups SET options = $1 WHERE id = $2`, *change.Options, group.ID); err != nil {
				return fmt.Errorf("failed to update group options: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("group", group.Name).Error("failed to update group")
		t.metrics.RecordMutation("group", "update", false)
		return false, nil
	}

	if change.Name != nil {
		t.cache.rename(group, *change.Name)
	}
	if change.Description != nil {
		group.Description = *change.Description
	}
	if change.Options != nil {
		group.Options = *change.Options
	}

	t.metrics.RecordMutation("group", "update", true)
	t.notifier.Notify(ctx, events.New(events.TypeGroupUpdated, map[string]any{
		"id":   group.ID,
		"name": group.Name,
	}))
	return true, nil
}

// RemoveGroup removes a group, its role grants and its memberships, and
// flags every member for session invalidation, all in one transaction.
// Integrity violations raise typed errors; transaction failures are logged
// and flattened to a false return.
//
// The group.removed event fires before the transaction opens; the removal
// may yet roll back.
func (t *Tool) RemoveGroup(ctx context.Context, ref Ref) (bool, error) {
	group, err := t.GetGroup(ctx, ref)
	if err != nil {
		return false, err
	}
	if err := t.guard.AssertMutableGroup(ctx, group.ID, group.Name); err != nil {
		return false, err
	}

	t.notifier.Notify(ctx, events.New(events.TypeGroupRemoved, map[string]any{
		"id":   group.ID,
		"name": group.Name,
	}))

	err = store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		// Members must be flagged while the membership rows still exist.
		if err := t.invalidator.MarkGroupMembers(ctx, tx, group.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_roles WHERE group_id = $1`, group.ID); err != nil {
			return fmt.Errorf("failed to delete role grants for group %s: %w", group.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE group_id = $1`, group.ID); err != nil {
			return fmt.Errorf("failed to delete memberships for group %s: %w", group.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, group.ID); err != nil {
			return fmt.Errorf("failed to delete group %s: %w", group.Name, err)
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("group", group.Name).Error("failed to remove group")
		t.metrics.RecordMutation("group", "remove", false)
		return false, nil
	}

	t.cache.evict(group)
	t.metrics.RecordMutation("group", "remove", true)
	t.metrics.RecordInvalidation()
	return true, nil
}

// AssignRoles fully replaces the group's role grants with the resolved
// subset of refs: existing grant rows are deleted first, then one row is
// inserted per resolvable reference. Unresolvable references are skipped
// silently. Every member is flagged for session invalidation. Returns true
// only when the group resolved and the transaction committed; failures are
// logged.
func (t *Tool) AssignRoles(ctx context.Context, ref Ref, roleRefs []roles.Ref) bool {
	group, err := t.GetGroup(ctx, ref)
	if err != nil {
		t.log.WithError(err).Error("failed to resolve group for role assignment")
		return false
	}

	var granted []string
	err = store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		// Replacement order matters: stale grant rows must not survive.
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_roles WHERE group_id = $1`, group.ID); err != nil {
			return fmt.Errorf("failed to clear role grants for group %s: %w", group.Name, err)
		}

		for _, rr := range roleRefs {
			role, err := t.roleTool.GetRole(ctx, rr)
			if err != nil {
				// Only a missing role is skippable; a store failure must
				// roll back or the delete above wipes the grants on its own.
				var notFound *guard.NotFoundError
				if errors.As(err, &notFound) {
					continue
				}
				return fmt.Errorf("failed to resolve role for group %s: %w", group.Name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO group_roles (group_id, role_id) VALUES ($1, $2)`,
				group.ID, role.ID,
			); err != nil {
				return fmt.Errorf("failed to grant role %s to group %s: %w", role.Path, group.Name, err)
			}
			granted = append(granted, role.Path)
		}

		return t.invalidator.MarkGroupMembers(ctx, tx, group.ID)
	})
	if err != nil {
		t.log.WithError(err).WithField("group", group.Name).Error("failed to assign roles to group")
		t.metrics.RecordMutation("group", "assign_roles", false)
		return false
	}

	t.metrics.RecordMutation("group", "assign_roles", true)
	t.metrics.RecordInvalidation()
	t.notifier.Notify(ctx, events.New(events.TypeGroupUpdated, map[string]any{
		"id":    group.ID,
		"name":  group.Name,
		"roles": granted,
	}))
	return true
}

// RoleIDs returns the ids of the roles currently granted to the group.
func (t *Tool) RoleIDs(ctx context.Context, ref Ref) ([]int64, error) {
	group, err := t.GetGroup(ctx, ref)
	if err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx, `SELECT role_id FROM group_roles WHERE group_id = $1 ORDER BY role_id`, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
