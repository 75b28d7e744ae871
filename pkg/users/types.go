package users

import (
	"context"

	"github.com/quartzcms/authgraph/pkg/groups"
	"github.com/quartzcms/authgraph/pkg/guard"
	"github.com/quartzcms/authgraph/pkg/roles"
	"github.com/quartzcms/authgraph/pkg/session"
)

// User option flags
const (
	// OptionInternal protects a user from mutation and removal.
	OptionInternal = guard.OptionInternal

	// OptionCanLoginWithEmail allows the email address as a login token.
	OptionCanLoginWithEmail int64 = 1 << 1

	// OptionInvalidateSession is the pending session-invalidation marker
	// consumed and cleared by the external session layer.
	OptionInvalidateSession = session.FlagInvalidate
)

// SentinelCredential is stored until a real credential has been installed.
const SentinelCredential = "#"

// User is an account holding direct role grants and group memberships. The
// credential is opaque here; it is written by the password reset
// collaborator only.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Credential string `json:"-"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Options    int64  `json:"options"`
}

// Internal reports whether the user is protected from mutation.
func (u *User) Internal() bool {
	return u.Options&OptionInternal != 0
}

// Ref identifies a user by surrogate id, username, email address, or an
// already resolved User. Exactly one field should be set.
type Ref struct {
	ID       int64
	Username string
	Email    string
	User     *User
}

// RefID references a user by surrogate id.
func RefID(id int64) Ref { return Ref{ID: id} }

// RefUsername references a user by username.
func RefUsername(username string) Ref { return Ref{Username: username} }

// RefEmail references a user by email address.
func RefEmail(email string) Ref { return Ref{Email: email} }

// RefUser references an already resolved user.
func RefUser(u *User) Ref { return Ref{User: u} }

// CreateUserAttrs carries the optional attributes of a new user.
// LoginWithEmail nil means "derive from the email attribute": a user
// created with an email address may log in with it unless explicitly
// disabled. Groups and Roles are assigned to the new user right after the
// credential installed successfully.
type CreateUserAttrs struct {
	Email          string
	GivenName      string
	FamilyName     string
	LoginWithEmail *bool
	Internal       bool
	Groups         []groups.Ref
	Roles          []roles.Ref
}

// PasswordResetService installs a real credential for a freshly created
// user. Credential verification and hashing live entirely behind this
// boundary.
type PasswordResetService interface {
	InstallPassword(ctx context.Context, username, plainCredential string) error
}
