package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleDispatcher = "dispatcher"
	RoleAgent      = "agent"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CallRoles may operate the softphone.
var CallRoles = []string{RoleOwner, RoleDispatcher, RoleAgent}

// NumberAdminRoles may purchase/release numbers and delete recordings.
var NumberAdminRoles = []string{RoleOwner}
