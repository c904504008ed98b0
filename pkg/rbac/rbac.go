// Package rbac provides role-based access control checks for chat commands.
package rbac

import "github.com/AleksandrAfonin/console-chat/pkg/model"

// Permission represents a specific action that can be checked against a role set.
type Permission int

const (
	PermBanUser Permission = iota
	PermShutdown
	PermManageRoles
)

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[Permission]bool{
	model.RoleAdmin: {
		PermBanUser:     true,
		PermShutdown:    true,
		PermManageRoles: true,
	},
	model.RoleUser: {
		// No special permissions: can only chat and send private messages
	},
}

// HasPermission checks if any role in the set grants a specific permission.
func HasPermission(roles model.RoleSet, perm Permission) bool {
	for _, role := range roles.All() {
		if permissionMatrix[role][perm] {
			return true
		}
	}
	return false
}

// RequirePermission returns an error message if the role set lacks the
// permission, or empty string if allowed.
func RequirePermission(roles model.RoleSet, perm Permission) string {
	if HasPermission(roles, perm) {
		return ""
	}
	return "permission denied: " + permName(perm) + " requires the ADMIN role"
}

func permName(p Permission) string {
	switch p {
	case PermBanUser:
		return "ban_user"
	case PermShutdown:
		return "shutdown"
	case PermManageRoles:
		return "manage_roles"
	default:
		return "unknown"
	}
}
