package auth

import (
	"fmt"
	"strings"
)

// Role is the caller's position in the closed role hierarchy. The set is
// totally ordered: customer < merchant < support < super_admin.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleMerchant   Role = "merchant"
	RoleSupport    Role = "support"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps a claim value onto the closed role set.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := role.rank(); !ok {
		return "", fmt.Errorf("auth: unknown role %q", raw)
	}
	return role, nil
}

func (r Role) rank() (int, bool) {
	switch r {
	case RoleCustomer:
		return 1, true
	case RoleMerchant:
		return 2, true
	case RoleSupport:
		return 3, true
	case RoleSuperAdmin:
		return 4, true
	default:
		return 0, false
	}
}

// AtLeast is the single ordering comparison for the role hierarchy. Every
// permission check goes through it; an unknown role on either side compares
// as insufficient.
func (r Role) AtLeast(min Role) bool {
	have, ok := r.rank()
	if !ok {
		return false
	}
	want, ok := min.rank()
	if !ok {
		return false
	}
	return have >= want
}
