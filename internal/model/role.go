package model

import "fmt"

// Role is the closed set of roles a user can hold.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleUser        Role = "user"
)

// ParseRole converts a stored or client-supplied string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSuperAdmin, RoleTenantAdmin, RoleUser:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// IsPlatform reports whether the role is scoped to no tenant.
func (r Role) IsPlatform() bool {
	return r == RoleSuperAdmin
}

func (r Role) String() string {
	return string(r)
}
