package groups

import (
	"github.com/quartzcms/authgraph/pkg/guard"
)

// OptionInternal protects a group from mutation and removal.
const OptionInternal = guard.OptionInternal

// Group is a flat, named bundle of roles. Names are globally unique, case
// insensitive. Users join groups to inherit all of the group's roles.
type Group struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Options     int64  `json:"options"`
}

// Internal reports whether the group is protected from mutation.
func (g *Group) Internal() bool {
	return g.Options&OptionInternal != 0
}

// Ref identifies a group by surrogate id, by name, or by an already
// resolved Group. Exactly one field should be set.
type Ref struct {
	ID    int64
	Name  string
	Group *Group
}

// RefID references a group by surrogate id.
func RefID(id int64) Ref { return Ref{ID: id} }

// RefName references a group by name (case insensitive).
func RefName(name string) Ref { return Ref{Name: name} }

// RefGroup references an already resolved group.
func RefGroup(g *Group) Ref { return Ref{Group: g} }

// GroupChange is a partial update; nil fields are left untouched.
type GroupChange struct {
	Name        *string
	Description *string
	Options     *int64
}
