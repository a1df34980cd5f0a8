package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for RBAC repositories
var (
	ErrRoleNotFound            = errors.New("role not found")
	ErrPermissionNotFound      = errors.New("permission not found")
	ErrRoleGroupNotFound       = errors.New("role group not found")
	ErrPermissionGroupNotFound = errors.New("permission group not found")
	ErrDuplicateName           = errors.New("name already in use")
	ErrGroupCycle              = errors.New("group parent would create a cycle")
)

// Role is a named grant target users are assigned to
type Role struct {
	ID          uuid.UUID
	Name        string
	Description string
	GroupID     *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission names a single allowed action, written as "{group}.{action}"
type Permission struct {
	ID          uuid.UUID
	Name        string
	Description string
	GroupID     uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleGroup organizes roles into an administrative tree. Membership does
// not grant anything by itself.
type RoleGroup struct {
	ID        uuid.UUID
	Name      string
	ParentID  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PermissionGroup organizes permissions into an administrative tree
type PermissionGroup struct {
	ID        uuid.UUID
	Name      string
	ParentID  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RbacRepository is the store behind the authorization resolver. Parent
// updates validate cycle freedom atomically with the write; assignment
// operations are idempotent.
type RbacRepository interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error

	CreatePermission(ctx context.Context, permission Permission) (Permission, error)
	GetPermission(ctx context.Context, id uuid.UUID) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpdatePermission(ctx context.Context, permission Permission) (Permission, error)
	DeletePermission(ctx context.Context, id uuid.UUID) error

	CreateRoleGroup(ctx context.Context, group RoleGroup) (RoleGroup, error)
	GetRoleGroup(ctx context.Context, id uuid.UUID) (RoleGroup, error)
	ListRoleGroups(ctx context.Context) ([]RoleGroup, error)
	SetRoleGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	DeleteRoleGroup(ctx context.Context, id uuid.UUID) error

	CreatePermissionGroup(ctx context.Context, group PermissionGroup) (PermissionGroup, error)
	GetPermissionGroup(ctx context.Context, id uuid.UUID) (PermissionGroup, error)
	ListPermissionGroups(ctx context.Context) ([]PermissionGroup, error)
	SetPermissionGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	DeletePermissionGroup(ctx context.Context, id uuid.UUID) error

	AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	ListUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error)

	AssignRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error)

	// UserHasPermission resolves user -> roles -> role permissions
	UserHasPermission(ctx context.Context, userID uuid.UUID, permissionName string) (bool, error)
}
