package security

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrAccessDenied = errors.New("access denied: insufficient permissions")
	ErrUnknownRole  = errors.New("unknown role")
)

// Role grants access to contract operations. Admin implies every role.
type Role string

const (
	RoleBuyer    Role = "BUYER"
	RoleSupplier Role = "SUPPLIER"
	RoleAdmin    Role = "ADMIN"
	RoleAuditor  Role = "AUDITOR"
)

// RoleHeader carries the caller roles as a comma separated list
const RoleHeader = "X-User-Roles"

// ReadRoles may read contracts and their history
var ReadRoles = []Role{RoleBuyer, RoleSupplier, RoleAdmin, RoleAuditor}

func (r Role) IsValid() bool {
	switch r {
	case RoleBuyer, RoleSupplier, RoleAdmin, RoleAuditor:
		return true
	}
	return false
}

// ParseRoles parses a comma separated role list, case-insensitively.
// Blank entries are skipped.
func ParseRoles(header string) ([]Role, error) {
	var roles []Role
	for _, part := range strings.Split(header, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		role := Role(part)
		if !role.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, part)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// HasRole reports whether the caller holds one of the required roles
func HasRole(userRoles []Role, required ...Role) bool {
	if len(userRoles) == 0 {
		return false
	}
	if slices.Contains(userRoles, RoleAdmin) {
		return true
	}
	for _, role := range userRoles {
		if slices.Contains(required, role) {
			return true
		}
	}
	return false
}

// RequireRole returns ErrAccessDenied unless HasRole holds
func RequireRole(userRoles []Role, required ...Role) error {
	if !HasRole(userRoles, required...) {
		return ErrAccessDenied
	}
	return nil
}

type rolesKey struct{}

// WithRoles stores the caller roles in ctx
func WithRoles(ctx context.Context, roles []Role) context.Context {
	return context.WithValue(ctx, rolesKey{}, roles)
}

// RolesFromContext returns the roles stored by WithRoles
func RolesFromContext(ctx context.Context) []Role {
	roles, _ := ctx.Value(rolesKey{}).([]Role)
	return roles
}
