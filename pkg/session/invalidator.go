// Package session marks users whose effective authorization changed so the
// external session layer re-evaluates them on its next check.
//
// The flag is write-only from this subsystem's perspective: it is set here
// and cleared by the session layer after re-evaluation.
package session

import (
	"context"
	"fmt"

	"github.com/quartzcms/authgraph/pkg/store"
)

// FlagInvalidate is the user option bit consumed by the session layer.
// It is a pending-invalidation marker, not a permission.
const FlagInvalidate int64 = 1 << 2

// Invalidator sets the pending-invalidation flag on affected users. Every
// method accepts a store.Execer so the updates run on the caller's
// transaction when one is open.
type Invalidator struct{}

// New creates an Invalidator.
func New() *Invalidator {
	return &Invalidator{}
}

// MarkRoleHolders flags every user holding the role directly or through any
// group granting it.
func (inv *Invalidator) MarkRoleHolders(ctx context.Context, ex store.Execer, roleID int64) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE users SET options = options | $1
		WHERE id IN (SELECT user_id FROM user_roles WHERE role_id = $2)
	`, FlagInvalidate, roleID)
	if err != nil {
		return fmt.Errorf("failed to flag direct role holders: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		UPDATE users SET options = options | $1
		WHERE id IN (
			SELECT ug.user_id
			FROM user_groups ug
			JOIN group_roles gr ON gr.group_id = ug.group_id
			WHERE gr.role_id = $2
		)
	`, FlagInvalidate, roleID)
	if err != nil {
		return fmt.Errorf("failed to flag group-granted role holders: %w", err)
	}

	return nil
}

// MarkGroupMembers flags every member of the group.
func (inv *Invalidator) MarkGroupMembers(ctx context.Context, ex store.Execer, groupID int64) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE users SET options = options | $1
		WHERE id IN (SELECT user_id FROM user_groups WHERE group_id = $2)
	`, FlagInvalidate, groupID)
	if err != nil {
		return fmt.Errorf("failed to flag group members: %w", err)
	}
	return nil
}

// MarkUser flags a single user.
func (inv *Invalidator) MarkUser(ctx context.Context, ex store.Execer, userID int64) error {
	_, err := ex.ExecContext(ctx, `UPDATE users SET options = options | $1 WHERE id = $2`, FlagInvalidate, userID)
	if err != nil {
		return fmt.Errorf("failed to flag user %d: %w", userID, err)
	}
	return nil
}
