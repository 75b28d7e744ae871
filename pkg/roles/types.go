package roles

import (
	"context"
	"strings"

	"github.com/quartzcms/authgraph/pkg/guard"
)

// Role option flags
const (
	// OptionInternal protects a role from mutation and removal.
	OptionInternal = guard.OptionInternal

	// OptionFinal prevents a role from acquiring children.
	OptionFinal = guard.OptionFinal
)

// Role is a node in the role forest. Segment is the uppercase local name,
// unique among siblings sharing the same parent. Path is the fully
// qualified dotted name derived from the ancestor chain; it is recomputed
// whenever the role is renamed or re-parented. ParentID 0 means the role is
// a root.
type Role struct {
	ID          int64  `json:"id"`
	Segment     string `json:"segment"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Options     int64  `json:"options"`
	ParentID    int64  `json:"parent_id"`
}

// IsRoot reports whether the role has no parent.
func (r *Role) IsRoot() bool {
	return r.ParentID == 0
}

// Internal reports whether the role is protected from mutation.
func (r *Role) Internal() bool {
	return r.Options&OptionInternal != 0
}

// Final reports whether the role may not acquire children.
func (r *Role) Final() bool {
	return r.Options&OptionFinal != 0
}

// Ref identifies a role by surrogate id, by fully qualified dotted path, or
// by an already resolved Role. Exactly one field should be set.
type Ref struct {
	ID   int64
	Path string
	Role *Role
}

// RefID references a role by surrogate id.
func RefID(id int64) Ref { return Ref{ID: id} }

// RefPath references a role by fully qualified dotted path.
func RefPath(path string) Ref { return Ref{Path: path} }

// RefRole references an already resolved role.
func RefRole(r *Role) Ref { return Ref{Role: r} }

// RoleChange is the request/response pair for amendable role updates. The
// caller fills in the fields it wants changed (nil means untouched), the
// change observer may return an amended copy, and only the amended copy is
// ever persisted.
type RoleChange struct {
	Segment     *string
	Description *string
	Options     *int64

	// Parent carries the proposed new parent for re-parent changes; nil
	// with ParentSet true means "make the role a root".
	Parent    *Role
	ParentSet bool
}

// ChangeObserver may amend a proposed role change before it is persisted.
// The returned change is authoritative over the caller's original values.
type ChangeObserver interface {
	AmendRoleChange(ctx context.Context, role *Role, change RoleChange) RoleChange
}

// JoinPath produces the dotted path of a child segment under parentPath.
func JoinPath(parentPath, segment string) string {
	if parentPath == "" {
		return segment
	}
	return parentPath + "." + segment
}

// siblingPath replaces the last element of path with segment.
func siblingPath(path, segment string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i+1] + segment
	}
	return segment
}
