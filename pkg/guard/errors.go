package guard

import "fmt"

// Entity kinds used in error messages.
const (
	KindRole  = "role"
	KindGroup = "group"
	KindUser  = "user"
)

// NotFoundError indicates the entity does not exist in the store.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

// ProtectedEntityError indicates a mutation was attempted on an entity
// carrying the internal flag.
type ProtectedEntityError struct {
	Kind string
	Name string
}

func (e *ProtectedEntityError) Error() string {
	return fmt.Sprintf("%s %s is internal and can not be changed", e.Kind, e.Name)
}

// DuplicateNameError indicates a sibling or global name collision.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Name)
}

// FinalRoleError indicates an attempt to place a child under a final role.
type FinalRoleError struct {
	Path string
}

func (e *FinalRoleError) Error() string {
	return fmt.Sprintf("role %s is final", e.Path)
}
