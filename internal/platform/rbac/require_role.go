package rbac

import (
	"medconnect/backend/internal/apperror"
	"medconnect/backend/internal/user/domain"
)

// RequireRole returns nil when role is one of allowed, and FORBIDDEN otherwise.
// An empty allowed list admits every authenticated role.
func RequireRole(role domain.Role, allowed ...domain.Role) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, r := range allowed {
		if r == role {
			return nil
		}
	}
	return apperror.New(apperror.KindForbidden, "access denied for role "+string(role)).
		WithDetail("requiredRoles", allowed)
}
