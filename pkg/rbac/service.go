// Package rbac implements the authorization resolver: roles, permissions,
// their administrative groups, and the user/role and role/permission
// assignments the request gate evaluates.
package rbac

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/audit"
)

// Permission names follow "{group}.{action}", e.g. "users.create"
var permissionNameRe = regexp.MustCompile(`^[a-z0-9_-]+\.[a-z0-9_-]+$`)

// RbacService evaluates and administers role-based access control.
// Evaluation is pure presence or absence per call; nothing is cached.
type RbacService struct {
	repository RbacRepository
	auditSink  audit.Sink
}

// RbacServiceOption configures an RbacService
type RbacServiceOption func(*RbacService)

// WithAuditSink sets the sink assignment changes are reported to
func WithAuditSink(sink audit.Sink) RbacServiceOption {
	return func(s *RbacService) {
		s.auditSink = sink
	}
}

// NewRbacService creates a new RbacService
func NewRbacService(repository RbacRepository, options ...RbacServiceOption) *RbacService {
	s := &RbacService{
		repository: repository,
		auditSink:  audit.NopSink{},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// mapErr translates repository sentinels into client-facing errors
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRoleNotFound):
		return apierr.New(apierr.CodeNotFound, "role not found")
	case errors.Is(err, ErrPermissionNotFound):
		return apierr.New(apierr.CodeNotFound, "permission not found")
	case errors.Is(err, ErrRoleGroupNotFound):
		return apierr.New(apierr.CodeNotFound, "role group not found")
	case errors.Is(err, ErrPermissionGroupNotFound):
		return apierr.New(apierr.CodeNotFound, "permission group not found")
	case errors.Is(err, ErrDuplicateName):
		return apierr.New(apierr.CodeConflict, "name already in use")
	case errors.Is(err, ErrGroupCycle):
		return apierr.New(apierr.CodeInvalidInput, "parent assignment would create a cycle").WithField("parent_id")
	default:
		return apierr.Internal(err)
	}
}

// Evaluation

// EffectiveRoles returns the roles directly assigned to the user. Group
// membership is administrative only and grants nothing.
func (s *RbacService) EffectiveRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	roles, err := s.repository.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	return roles, nil
}

// EffectiveRoleNames returns just the names, for embedding in token claims
func (s *RbacService) EffectiveRoleNames(ctx context.Context, userID uuid.UUID) ([]string, error) {
	roles, err := s.EffectiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names, nil
}

// HasRole reports whether the user holds any of the required roles
func (s *RbacService) HasRole(ctx context.Context, userID uuid.UUID, required ...string) (bool, error) {
	roles, err := s.EffectiveRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		for _, want := range required {
			if role.Name == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasPermission reports whether any of the user's roles grants the
// permission.
func (s *RbacService) HasPermission(ctx context.Context, userID uuid.UUID, permissionName string) (bool, error) {
	allowed, err := s.repository.UserHasPermission(ctx, userID, permissionName)
	if err != nil {
		return false, mapErr(err)
	}
	return allowed, nil
}

// Role administration

func (s *RbacService) CreateRole(ctx context.Context, name, description string, groupID *uuid.UUID) (Role, error) {
	if name == "" {
		return Role{}, apierr.InvalidInput("name", "cannot be empty")
	}
	role, err := s.repository.CreateRole(ctx, Role{Name: name, Description: description, GroupID: groupID})
	if err != nil {
		return Role{}, mapErr(err)
	}
	return role, nil
}

func (s *RbacService) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	role, err := s.repository.GetRole(ctx, id)
	return role, mapErr(err)
}

func (s *RbacService) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.repository.ListRoles(ctx)
	return roles, mapErr(err)
}

func (s *RbacService) UpdateRole(ctx context.Context, role Role) (Role, error) {
	if role.Name == "" {
		return Role{}, apierr.InvalidInput("name", "cannot be empty")
	}
	updated, err := s.repository.UpdateRole(ctx, role)
	return updated, mapErr(err)
}

func (s *RbacService) DeleteRole(ctx context.Context, id uuid.UUID) error {
	return mapErr(s.repository.DeleteRole(ctx, id))
}

// Permission administration

func (s *RbacService) CreatePermission(ctx context.Context, name, description string, groupID uuid.UUID) (Permission, error) {
	if !permissionNameRe.MatchString(name) {
		return Permission{}, apierr.InvalidInput("name", `must match "{group}.{action}"`)
	}
	if groupID == uuid.Nil {
		return Permission{}, apierr.InvalidInput("group_id", "is required")
	}
	permission, err := s.repository.CreatePermission(ctx, Permission{Name: name, Description: description, GroupID: groupID})
	if err != nil {
		return Permission{}, mapErr(err)
	}
	return permission, nil
}

func (s *RbacService) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	permission, err := s.repository.GetPermission(ctx, id)
	return permission, mapErr(err)
}

func (s *RbacService) ListPermissions(ctx context.Context) ([]Permission, error) {
	permissions, err := s.repository.ListPermissions(ctx)
	return permissions, mapErr(err)
}

func (s *RbacService) UpdatePermission(ctx context.Context, permission Permission) (Permission, error) {
	if !permissionNameRe.MatchString(permission.Name) {
		return Permission{}, apierr.InvalidInput("name", `must match "{group}.{action}"`)
	}
	updated, err := s.repository.UpdatePermission(ctx, permission)
	return updated, mapErr(err)
}

func (s *RbacService) DeletePermission(ctx context.Context, id uuid.UUID) error {
	return mapErr(s.repository.DeletePermission(ctx, id))
}

// Group administration

func (s *RbacService) CreateRoleGroup(ctx context.Context, name string, parentID *uuid.UUID) (RoleGroup, error) {
	if name == "" {
		return RoleGroup{}, apierr.InvalidInput("name", "cannot be empty")
	}
	group, err := s.repository.CreateRoleGroup(ctx, RoleGroup{Name: name, ParentID: parentID})
	return group, mapErr(err)
}

func (s *RbacService) GetRoleGroup(ctx context.Context, id uuid.UUID) (RoleGroup, error) {
	group, err := s.repository.GetRoleGroup(ctx, id)
	return group, mapErr(err)
}

func (s *RbacService) ListRoleGroups(ctx context.Context) ([]RoleGroup, error) {
	groups, err := s.repository.ListRoleGroups(ctx)
	return groups, mapErr(err)
}

func (s *RbacService) SetRoleGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	return mapErr(s.repository.SetRoleGroupParent(ctx, id, parentID))
}

func (s *RbacService) DeleteRoleGroup(ctx context.Context, id uuid.UUID) error {
	return mapErr(s.repository.DeleteRoleGroup(ctx, id))
}

func (s *RbacService) CreatePermissionGroup(ctx context.Context, name string, parentID *uuid.UUID) (PermissionGroup, error) {
	if name == "" {
		return PermissionGroup{}, apierr.InvalidInput("name", "cannot be empty")
	}
	group, err := s.repository.CreatePermissionGroup(ctx, PermissionGroup{Name: name, ParentID: parentID})
	return group, mapErr(err)
}

func (s *RbacService) GetPermissionGroup(ctx context.Context, id uuid.UUID) (PermissionGroup, error) {
	group, err := s.repository.GetPermissionGroup(ctx, id)
	return group, mapErr(err)
}

func (s *RbacService) ListPermissionGroups(ctx context.Context) ([]PermissionGroup, error) {
	groups, err := s.repository.ListPermissionGroups(ctx)
	return groups, mapErr(err)
}

func (s *RbacService) SetPermissionGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	return mapErr(s.repository.SetPermissionGroupParent(ctx, id, parentID))
}

func (s *RbacService) DeletePermissionGroup(ctx context.Context, id uuid.UUID) error {
	return mapErr(s.repository.DeletePermissionGroup(ctx, id))
}

// Assignments

func (s *RbacService) AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if err := s.repository.AssignUserRole(ctx, userID, roleID); err != nil {
		return mapErr(err)
	}
	s.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventRoleAssigned,
		UserID: userID,
		Detail: map[string]interface{}{"role_id": roleID.String()},
	})
	return nil
}

func (s *RbacService) RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if err := s.repository.RemoveUserRole(ctx, userID, roleID); err != nil {
		return mapErr(err)
	}
	s.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventRoleRemoved,
		UserID: userID,
		Detail: map[string]interface{}{"role_id": roleID.String()},
	})
	return nil
}

func (s *RbacService) AssignRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	if err := s.repository.AssignRolePermission(ctx, roleID, permissionID); err != nil {
		return mapErr(err)
	}
	s.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventPermissionGranted,
		Detail: map[string]interface{}{"role_id": roleID.String(), "permission_id": permissionID.String()},
	})
	return nil
}

func (s *RbacService) RemoveRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	if err := s.repository.RemoveRolePermission(ctx, roleID, permissionID); err != nil {
		return mapErr(err)
	}
	s.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventPermissionRevoked,
		Detail: map[string]interface{}{"role_id": roleID.String(), "permission_id": permissionID.String()},
	})
	return nil
}

// ListRolePermissions returns the permissions granted by a role
func (s *RbacService) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	permissions, err := s.repository.ListRolePermissions(ctx, roleID)
	return permissions, mapErr(err)
}
