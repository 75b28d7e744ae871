package roles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quartzcms/authgraph/pkg/store"
)

// loadAllRoles reads the full roles table. Paths are derived later by the
// tree cache; rows carry only segment and parent linkage.
func loadAllRoles(ctx context.Context, ex store.Execer) ([]*Role, error) {
	rows, err := ex.QueryContext(ctx, `SELECT id, segment, description, parent_id, options FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	defer rows.Close()

	var all []*Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Segment, &r.Description, &r.ParentID, &r.Options); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		all = append(all, &r)
	}
	return all, rows.Err()
}

// siblingExists reports whether a role with the given segment already sits
// under the given parent (0 for roots).
func siblingExists(ctx context.Context, ex store.Execer, parentID int64, segment string) (bool, error) {
	var id int64
	err := ex.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE parent_id = $1 AND segment = $2 LIMIT 1`,
		parentID, segment,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check sibling role: %w", err)
	}
	return true, nil
}

func insertRole(ctx context.Context, ex store.Execer, segment, description string, parentID, options int64) (int64, error) {
	var id int64
	err := ex.QueryRowContext(ctx,
		`INSERT INTO roles (segment, description, parent_id, options) VALUES ($1, $2, $3, $4) RETURNING id`,
		segment, description, parentID, options,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert role: %w", err)
	}
	return id, nil
}
