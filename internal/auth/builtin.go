package auth

// Built-in role names.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleCustomer   = "CUSTOMER"
)

// Permission keys checked by the service itself.
const (
	PermUsersRead       = "users:read"
	PermUsersWrite      = "users:write"
	PermRolesRead       = "roles:read"
	PermRolesWrite      = "roles:write"
	PermPermissionsRead = "permissions:read"
	PermPermissionsEdit = "permissions:write"
	PermKeysRead        = "keys:read"
	PermKeysWrite       = "keys:write"
	PermSessionsRevoke  = "sessions:revoke"
	PermAuditRead       = "audit:read"
)

// BuiltinPermissions are seeded at startup and cannot be edited or deleted.
var BuiltinPermissions = []Permission{
	{Key: PermUsersRead, Description: "View user accounts and their permissions", Category: "users", Protected: true},
	{Key: PermUsersWrite, Description: "Change user role and permission overrides", Category: "users", Protected: true},
	{Key: PermRolesRead, Description: "View roles", Category: "access", Protected: true},
	{Key: PermRolesWrite, Description: "Create, edit and delete roles", Category: "access", Protected: true},
	{Key: PermPermissionsRead, Description: "View the permission catalog", Category: "access", Protected: true},
	{Key: PermPermissionsEdit, Description: "Edit the permission catalog", Category: "access", Protected: true},
	{Key: PermKeysRead, Description: "View signing keys", Category: "security", Protected: true},
	{Key: PermKeysWrite, Description: "Add, activate and deactivate signing keys", Category: "security", Protected: true},
	{Key: PermSessionsRevoke, Description: "Sign a user out of every device", Category: "security", Protected: true},
	{Key: PermAuditRead, Description: "Read the audit log", Category: "security", Protected: true},
	{Key: "products:read", Description: "View catalog products", Category: "catalog", Protected: true},
	{Key: "products:write", Description: "Create and edit products", Category: "catalog", Protected: true},
	{Key: "orders:read", Description: "View orders", Category: "orders", Protected: true},
	{Key: "orders:write", Description: "Update order status", Category: "orders", Protected: true},
	{Key: "dashboard:read", Description: "View the sales dashboard", Category: "reporting", Protected: true},
}

// BuiltinRoles are seeded at startup and cannot be edited or deleted.
var BuiltinRoles = []Role{
	{
		Name:        RoleSuperAdmin,
		Label:       "Super administrator",
		Description: "Unrestricted access",
		Permissions: []string{WildcardPermission},
		Protected:   true,
	},
	{
		Name:        RoleAdmin,
		Label:       "Administrator",
		Description: "Store operations",
		Permissions: []string{
			PermUsersRead, PermRolesRead, PermPermissionsRead, PermAuditRead,
			"products:read", "products:write", "orders:read", "orders:write", "dashboard:read",
		},
		Protected: true,
	},
	{
		Name:        RoleCustomer,
		Label:       "Customer",
		Description: "Storefront shopper",
		Permissions: []string{"products:read"},
		Protected:   true,
	},
}
