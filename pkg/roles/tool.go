package roles

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quartzcms/authgraph/pkg/events"
	"github.com/quartzcms/authgraph/pkg/guard"
	"github.com/quartzcms/authgraph/pkg/observability"
	"github.com/quartzcms/authgraph/pkg/session"
	"github.com/quartzcms/authgraph/pkg/store"
)

// Tool owns the role forest: add, remove, rename and re-parent, all
// integrity-checked against current persisted state and cascading to
// descendants.
//
// Error propagation is deliberately asymmetric, mirroring the callers this
// API grew up with: AddRole, UpdateRole and UpdateRoleParent raise typed
// errors for integrity and duplicate violations, while RemoveRole flattens
// transaction failures to a logged boolean. Callers of RemoveRole must
// check the returned flag.
type Tool struct {
	db          *sql.DB
	guard       *guard.Guard
	invalidator *session.Invalidator
	notifier    events.Notifier
	observer    ChangeObserver
	metrics     *observability.Metrics
	log         *logrus.Logger
	cache       *treeCache
}

// NewTool creates a role tool. A nil notifier disables event delivery and a
// nil logger falls back to a default logrus logger.
func NewTool(db *sql.DB, notifier events.Notifier, log *logrus.Logger) *Tool {
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
		log:         log,
		cache:       newTreeCache(),
	}
}

// SetObserver installs the change observer consulted before amendable
// updates are persisted.
func (t *Tool) SetObserver(o ChangeObserver) {
	t.observer = o
}

// SetMetrics installs mutation metrics. Nil is valid.
func (t *Tool) SetMetrics(m *observability.Metrics) {
	t.metrics = m
}

// ensureCache populates the tree cache from the store when it is not in the
// loaded state.
func (t *Tool) ensureCache(ctx context.Context) error {
	if t.cache.loaded() {
		return nil
	}
	all, err := loadAllRoles(ctx, t.db)
	if err != nil {
		t.cache.fail()
		return err
	}
	t.cache.build(all)
	return nil
}

// Invalidate drops the tree cache; the next lookup rebuilds it from the
// store.
func (t *Tool) Invalidate() {
	t.cache.invalidate()
}

// GetRole resolves a role reference by id, by dotted path (case
// insensitive), or passes an already resolved role through.
func (t *Tool) GetRole(ctx context.Context, ref Ref) (*Role, error) {
	if ref.Role != nil {
		return ref.Role, nil
	}
	if err := t.ensureCache(ctx); err != nil {
		return nil, err
	}
	if ref.ID != 0 {
		r, ok := t.cache.lookupID(ref.ID)
		t.metrics.RecordCacheLookup("roles", ok)
		if !ok {
			return nil, &guard.NotFoundError{Kind: guard.KindRole, Name: fmt.Sprintf("#%d", ref.ID)}
		}
		return r, nil
	}
	if ref.Path != "" {
		path := strings.ToUpper(ref.Path)
		r, ok := t.cache.lookupPath(path)
		t.metrics.RecordCacheLookup("roles", ok)
		if !ok {
			return nil, &guard.NotFoundError{Kind: guard.KindRole, Name: path}
		}
		return r, nil
	}
	return nil, &guard.NotFoundError{Kind: guard.KindRole, Name: "(empty reference)"}
}

// Parent returns the parent of a role, or nil when the role is a root.
func (t *Tool) Parent(ctx context.Context, role *Role) (*Role, error) {
	if role.ParentID == 0 {
		return nil, nil
	}
	return t.GetRole(ctx, RefID(role.ParentID))
}

// Children returns the direct children of a role.
func (t *Tool) Children(ctx context.Context, role *Role) ([]*Role, error) {
	if err := t.ensureCache(ctx); err != nil {
		return nil, err
	}
	var out []*Role
	for _, id := range t.cache.childIDs(role.ID) {
		if r, ok := t.cache.lookupID(id); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Descendants collects every transitive child of a role exactly once, in
// breadth-first order. The role itself is not included. Order carries no
// meaning; only completeness does.
func (t *Tool) Descendants(ctx context.Context, role *Role) ([]*Role, error) {
	if err := t.ensureCache(ctx); err != nil {
		return nil, err
	}

	var out []*Role
	seen := map[int64]bool{role.ID: true}
	queue := t.cache.childIDs(role.ID)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := t.cache.lookupID(id); ok {
			out = append(out, r)
			queue = append(queue, t.cache.childIDs(id)...)
		}
	}
	return out, nil
}

// AddRole creates a role. The segment is normalized to uppercase, the
// internal flag is stripped from caller-supplied options, and a sibling
// with the same segment under the same parent fails with
// DuplicateNameError. The new role is registered in the cache and a
// role.added event fires after the insert.
func (t *Tool) AddRole(ctx context.Context, segment string, parent *Role, description string, options int64) (*Role, error) {
	segment = strings.ToUpper(segment)

	parentID := int64(0)
	path := segment
	if parent != nil {
		if err := guard.AssertCanAcceptChild(parent.Options, parent.Path); err != nil {
			return nil, err
		}
		parentID = parent.ID
		path = JoinPath(parent.Path, segment)
	}

	exists, err := siblingExists(ctx, t.db, parentID, segment)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &guard.DuplicateNameError{Kind: guard.KindRole, Name: path}
	}

	// Callers may never mint a protected role.
	options &^= OptionInternal

	id, err := insertRole(ctx, t.db, segment, description, parentID, options)
	if err != nil {
		t.metrics.RecordMutation("role", "add", false)
		return nil, err
	}

	role := &Role{
		ID:          id,
		Segment:     segment,
		Path:        path,
		Description: description,
		Options:     options,
		ParentID:    parentID,
	}
	t.cache.register(role)
	t.metrics.RecordMutation("role", "add", true)

	t.notifier.Notify(ctx, events.New(events.TypeRoleAdded, map[string]any{
		"id":      role.ID,
		"path":    role.Path,
		"options": role.Options,
	}))

	return role, nil
}

// RemoveRole removes a role together with its entire descendant subtree and
// every grant edge referencing any member of it, and flags every holding
// user for session invalidation. Integrity violations raise typed errors;
// transaction failures are logged and flattened to a false return.
//
// The role.removed event fires before the transaction opens, so observers
// can inspect the still-formed role; the removal may yet roll back.
func (t *Tool) RemoveRole(ctx context.Context, role *Role) (bool, error) {
	if err := t.guard.AssertMutableRole(ctx, role.ID, role.Path); err != nil {
		return false, err
	}

	t.notifier.Notify(ctx, events.New(events.TypeRoleRemoved, map[string]any{
		"id":      role.ID,
		"path":    role.Path,
		"options": role.Options,
	}))

	// Phase one: pure computation of the doomed set. Phase two below applies
	// it atomically, so either the whole subtree is gone or none of it is,
	// independent of traversal order.
	doomed, err := t.Descendants(ctx, role)
	if err != nil {
		t.log.WithError(err).WithField("role", role.Path).Error("failed to collect role descendants")
		t.metrics.RecordMutation("role", "remove", false)
		return false, nil
	}
	doomed = append(doomed, role)

	err = store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		for _, r := range doomed {
			// Holders must be flagged while their grant rows still exist.
			if err := t.invalidator.MarkRoleHolders(ctx, tx, r.ID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM group_roles WHERE role_id = $1`, r.ID); err != nil {
				return fmt.Errorf("failed to delete group grants for role %s: %w", r.Path, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, r.ID); err != nil {
				return fmt.Errorf("failed to delete user grants for role %s: %w", r.Path, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, r.ID); err != nil {
				return fmt.Errorf("failed to delete role %s: %w", r.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("role", role.Path).Error("failed to remove role subtree")
		t.metrics.RecordMutation("role", "remove", false)
		return false, nil
	}

	t.cache.invalidate()
	t.metrics.RecordMutation("role", "remove", true)
	t.metrics.RecordInvalidation()
	return true, nil
}

// UpdateRole applies a partial update to a role. Only non-nil change fields
// are touched, and they are persisted together in one transaction. The
// change observer, when installed, may amend the change first; whatever it
// leaves in the change is what gets written. Integrity and duplicate
// violations raise typed errors; persistence failures are logged and
// flattened to a false return.
func (t *Tool) UpdateRole(ctx context.Context, role *Role, change RoleChange) (bool, error) {
	if err := t.guard.AssertMutableRole(ctx, role.ID, role.Path); err != nil {
		return false, err
	}

	if change.Segment != nil {
		segment := strings.ToUpper(*change.Segment)
		change.Segment = &segment

		exists, err := siblingExists(ctx, t.db, role.ParentID, segment)
		if err != nil {
			return false, err
		}
		if exists {
			return false, &guard.DuplicateNameError{Kind: guard.KindRole, Name: siblingPath(role.Path, segment)}
		}
	}

	if change.Options != nil {
		// Cannot self-grant protection.
		options := *change.Options &^ OptionInternal
		change.Options = &options
	}

	if t.observer != nil {
		change = t.observer.AmendRoleChange(ctx, role, change)
	}

	err := store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		if change.Segment != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE roles SET segment = $1 WHERE id = $2`, *change.Segment, role.ID); err != nil {
				return fmt.Errorf("failed to update role segment: %w", err)
			}
		}
		if change.Description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE roles SET description = $1 WHERE id = $2`, *change.Description, role.ID); err != nil {
				return fmt.Errorf("failed to update role description: %w", err)
			}
		}
		if change.Options != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE roles SET options = $1 WHERE id = $2`, *change.Options, role.ID); err != nil {
				return fmt.Errorf("failed to update role options: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("role", role.Path).Error("failed to update role")
		t.metrics.RecordMutation("role", "update", false)
		return false, nil
	}

	if change.Description != nil {
		role.Description = *change.Description
	}
	if change.Options != nil {
		role.Options = *change.Options
	}
	if change.Segment != nil {
		newPath := siblingPath(role.Path, *change.Segment)
		hadChildren := len(t.cache.childIDs(role.ID)) > 0
		t.cache.rename(role.ID, *change.Segment, newPath)
		role.Segment = *change.Segment
		role.Path = newPath
		if hadChildren {
			// A rename shifts every descendant path as well.
			t.cache.invalidate()
		}
	}

	t.metrics.RecordMutation("role", "update", true)
	t.notifier.Notify(ctx, events.New(events.TypeRoleUpdated, map[string]any{
		"id":      role.ID,
		"path":    role.Path,
		"options": role.Options,
	}))
	return true, nil
}

// UpdateRoleParent moves a role (and implicitly its subtree) under a new
// parent, or makes it a root when newParent is nil. It is a no-op returning
// false when the requested parent equals the current one. A final new
// parent raises FinalRoleError. On success the whole tree cache is
// invalidated, since every descendant path changed, and every user holding
// any role of the moved subtree is flagged for session invalidation, inside
// the same transaction as the parent switch.
func (t *Tool) UpdateRoleParent(ctx context.Context, role *Role, newParent *Role) (bool, error) {
	if err := t.guard.AssertMutableRole(ctx, role.ID, role.Path); err != nil {
		return false, err
	}

	if newParent == nil && role.ParentID == 0 {
		return false, nil
	}
	if newParent != nil && newParent.ID == role.ParentID {
		return false, nil
	}

	change := RoleChange{Parent: newParent, ParentSet: true}
	if t.observer != nil {
		change = t.observer.AmendRoleChange(ctx, role, change)
		newParent = change.Parent
	}

	parentID := int64(0)
	if newParent != nil {
		if err := guard.AssertCanAcceptChild(newParent.Options, newParent.Path); err != nil {
			return false, err
		}
		parentID = newParent.ID
	}

	// The affected set is the subtree membership, which a re-parent does not
	// change; only the paths do. Collect it from a fresh load so stale cache
	// state cannot leak into the invalidation pass.
	t.cache.invalidate()
	affected, err := t.Descendants(ctx, role)
	if err != nil {
		return false, err
	}
	affected = append(affected, role)

	err = store.WithinTx(ctx, t.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE roles SET parent_id = $1 WHERE id = $2`, parentID, role.ID); err != nil {
			return fmt.Errorf("failed to update role parent: %w", err)
		}
		for _, r := range affected {
			if err := t.invalidator.MarkRoleHolders(ctx, tx, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.metrics.RecordMutation("role", "reparent", false)
		return false, err
	}

	// Every descendant path changed; rebuild on next access.
	t.cache.invalidate()
	role.ParentID = parentID
	if newParent != nil {
		role.Path = JoinPath(newParent.Path, role.Segment)
	} else {
		role.Path = role.Segment
	}

	t.metrics.RecordMutation("role", "reparent", true)
	t.metrics.RecordInvalidation()
	t.notifier.Notify(ctx, events.New(events.TypeRoleUpdated, map[string]any{
		"id":        role.ID,
		"path":      role.Path,
		"parent_id": role.ParentID,
	}))
	return true, nil
}
