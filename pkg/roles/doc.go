// Package roles owns the hierarchical role forest: dotted uppercase paths,
// parent/child relations and the cascading mutations on them.
//
// # Overview
//
// Roles form a forest. Each role is a single uppercase segment; its path is
// the dot-joined chain of segments from its root (SKYLINE.ADMIN.USERS).
// Lookups resolve through a lazily built process-local cache that indexes
// roles by id and by path and is invalidated wholesale on every structural
// mutation. Mutations follow an asymmetric error contract: AddRole and
// UpdateRole raise typed errors on integrity and duplicate violations, while
// RemoveRole and UpdateRoleParent flatten transaction failures to a logged
// false return.
//
// # Usage Example
//
// Create a child role and resolve it by path:
//
//	tool := roles.NewTool(db, notifier, log)
//	parent, err := tool.GetRole(ctx, roles.RefPath("SKYLINE"))
//	if err != nil {
//		return err
//	}
//	admin, err := tool.AddRole(ctx, "admin", parent, "administrators", 0)
//	if err != nil {
//		return err
//	}
//	// admin.Path == "SKYLINE.ADMIN"
//
// # Related Packages
//
//   - pkg/guard: Integrity checks run before guarded mutations
//   - pkg/groups: Grants roles to flat groups
//   - pkg/users: Grants roles to users directly
//   - pkg/session: Flags role holders for session invalidation
package roles
