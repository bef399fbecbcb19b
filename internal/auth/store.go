package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
}

// UserStore manages users and their embedded refresh sessions. Every session
// operation is a single atomic read-modify-write of one user record and
// prunes sessions expired at now.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	SetUserAccess(ctx context.Context, id, role string, permissions []string) (User, error)

	AddSession(ctx context.Context, userID string, sess RefreshSession, now time.Time, limit int) error
	// RotateSession replaces oldTokenID with next only if oldTokenID is still
	// present; otherwise it returns ErrSessionNotFound and changes nothing.
	RotateSession(ctx context.Context, userID, oldTokenID string, next RefreshSession, now time.Time, limit int) error
	RemoveSession(ctx context.Context, userID, tokenID string, now time.Time) (bool, error)
	RemoveAllSessions(ctx context.Context, userID string) (int, error)
}

// RoleStore manages roles keyed by name.
type RoleStore interface {
	CreateRole(ctx context.Context, r Role) (Role, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, r Role) (Role, error)
	DeleteRole(ctx context.Context, name string) error
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	PermissionByKey(ctx context.Context, key string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	DeletePermission(ctx context.Context, key string) error
}
