package permission

import (
	"errors"
	"strings"
)

// Role is one of the three ordered account roles.
type Role string

const (
	// RoleUser is the default role assigned to every new account.
	RoleUser Role = "USER"
	// RoleBlogEditor can manage editorial content.
	RoleBlogEditor Role = "BLOG_EDITOR"
	// RoleAdmin has full access.
	RoleAdmin Role = "ADMIN"
)

// ErrUnknownRole is returned by [ParseRole] for names outside the hierarchy.
var ErrUnknownRole = errors.New("unknown role")

var roleRanks = map[Role]int{
	RoleUser:       1,
	RoleBlogEditor: 2,
	RoleAdmin:      3,
}

// Roles returns the hierarchy in ascending rank order.
func Roles() []Role {
	return []Role{RoleUser, RoleBlogEditor, RoleAdmin}
}

// Rank returns the position of r in the hierarchy. Unknown roles rank 0.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

func (r Role) String() string {
	return string(r)
}

// ParseRole maps a stored or claimed role name to a [Role].
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}

// HasRole reports whether actual meets or exceeds required.
// An unknown actual or required role never satisfies the check.
func HasRole(actual, required Role) bool {
	if !actual.Valid() || !required.Valid() {
		return false
	}
	return actual.Rank() >= required.Rank()
}
