package types

import "fmt"

// Role is the privilege tier of a user.
type Role string

const (
	// RoleSuperAdmin is the platform operator tier. It is the only tier
	// allowed to impersonate and the only tier that can never be impersonated.
	RoleSuperAdmin Role = "super_admin"
	// RoleChurchAdmin administers a single church.
	RoleChurchAdmin Role = "church_admin"
	// RoleLeader runs ministries, cells and courses inside a church.
	RoleLeader Role = "leader"
	// RoleMember is a regular congregation member.
	RoleMember Role = "member"
)

// IsValid returns true if the Role is one of the known tiers.
func (r Role) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleChurchAdmin, RoleLeader, RoleMember:
		return true
	default:
		return false
	}
}

// IsTopTier reports whether r is the highest administrative tier.
func (r Role) IsTopTier() bool {
	return r == RoleSuperAdmin
}

// String returns the string representation.
func (r Role) String() string {
	return string(r)
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrBadRequest, s)
	}
	return r, nil
}
