package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRbacRepository implements RbacRepository with in-memory maps.
// Used in tests and local development.
type InMemoryRbacRepository struct {
	mu sync.RWMutex

	roles            map[uuid.UUID]Role
	permissions      map[uuid.UUID]Permission
	roleGroups       map[uuid.UUID]RoleGroup
	permissionGroups map[uuid.UUID]PermissionGroup

	userRoles       map[uuid.UUID]map[uuid.UUID]struct{} // user id -> role ids
	rolePermissions map[uuid.UUID]map[uuid.UUID]struct{} // role id -> permission ids
}

// NewInMemoryRbacRepository creates an empty repository
func NewInMemoryRbacRepository() *InMemoryRbacRepository {
	return &InMemoryRbacRepository{
		roles:            make(map[uuid.UUID]Role),
		permissions:      make(map[uuid.UUID]Permission),
		roleGroups:       make(map[uuid.UUID]RoleGroup),
		permissionGroups: make(map[uuid.UUID]PermissionGroup),
		userRoles:        make(map[uuid.UUID]map[uuid.UUID]struct{}),
		rolePermissions:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Roles

func (r *InMemoryRbacRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return Role{}, ErrDuplicateName
		}
	}
	if role.GroupID != nil {
		if _, ok := r.roleGroups[*role.GroupID]; !ok {
			return Role{}, ErrRoleGroupNotFound
		}
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	r.roles[role.ID] = role
	return role, nil
}

func (r *InMemoryRbacRepository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return role, nil
}

func (r *InMemoryRbacRepository) ListRoles(ctx context.Context) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *InMemoryRbacRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.roles[role.ID]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	for id, other := range r.roles {
		if id != role.ID && other.Name == role.Name {
			return Role{}, ErrDuplicateName
		}
	}
	if role.GroupID != nil {
		if _, ok := r.roleGroups[*role.GroupID]; !ok {
			return Role{}, ErrRoleGroupNotFound
		}
	}
	existing.Name = role.Name
	existing.Description = role.Description
	existing.GroupID = role.GroupID
	existing.UpdatedAt = time.Now().UTC()
	r.roles[role.ID] = existing
	return existing, nil
}

func (r *InMemoryRbacRepository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[id]; !ok {
		return ErrRoleNotFound
	}
	delete(r.roles, id)
	delete(r.rolePermissions, id)
	for userID := range r.userRoles {
		delete(r.userRoles[userID], id)
	}
	return nil
}

// Permissions

func (r *InMemoryRbacRepository) CreatePermission(ctx context.Context, permission Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.permissions {
		if existing.Name == permission.Name {
			return Permission{}, ErrDuplicateName
		}
	}
	if _, ok := r.permissionGroups[permission.GroupID]; !ok {
		return Permission{}, ErrPermissionGroupNotFound
	}
	if permission.ID == uuid.Nil {
		permission.ID = uuid.New()
	}
	now := time.Now().UTC()
	permission.CreatedAt = now
	permission.UpdatedAt = now
	r.permissions[permission.ID] = permission
	return permission, nil
}

func (r *InMemoryRbacRepository) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	permission, ok := r.permissions[id]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	return permission, nil
}

func (r *InMemoryRbacRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	permissions := make([]Permission, 0, len(r.permissions))
	for _, permission := range r.permissions {
		permissions = append(permissions, permission)
	}
	sort.Slice(permissions, func(i, j int) bool { return permissions[i].Name < permissions[j].Name })
	return permissions, nil
}

func (r *InMemoryRbacRepository) UpdatePermission(ctx context.Context, permission Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.permissions[permission.ID]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	for id, other := range r.permissions {
		if id != permission.ID && other.Name == permission.Name {
			return Permission{}, ErrDuplicateName
		}
	}
	if _, ok := r.permissionGroups[permission.GroupID]; !ok {
		return Permission{}, ErrPermissionGroupNotFound
	}
	existing.Name = permission.Name
	existing.Description = permission.Description
	existing.GroupID = permission.GroupID
	existing.UpdatedAt = time.Now().UTC()
	r.permissions[permission.ID] = existing
	return existing, nil
}

func (r *InMemoryRbacRepository) DeletePermission(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.permissions[id]; !ok {
		return ErrPermissionNotFound
	}
	delete(r.permissions, id)
	for roleID := range r.rolePermissions {
		delete(r.rolePermissions[roleID], id)
	}
	return nil
}

// Role groups

func (r *InMemoryRbacRepository) CreateRoleGroup(ctx context.Context, group RoleGroup) (RoleGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.roleGroups {
		if existing.Name == group.Name {
			return RoleGroup{}, ErrDuplicateName
		}
	}
	if group.ParentID != nil {
		if _, ok := r.roleGroups[*group.ParentID]; !ok {
			return RoleGroup{}, ErrRoleGroupNotFound
		}
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now
	r.roleGroups[group.ID] = group
	return group, nil
}

func (r *InMemoryRbacRepository) GetRoleGroup(ctx context.Context, id uuid.UUID) (RoleGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.roleGroups[id]
	if !ok {
		return RoleGroup{}, ErrRoleGroupNotFound
	}
	return group, nil
}

func (r *InMemoryRbacRepository) ListRoleGroups(ctx context.Context) ([]RoleGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]RoleGroup, 0, len(r.roleGroups))
	for _, group := range r.roleGroups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (r *InMemoryRbacRepository) SetRoleGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.roleGroups[id]
	if !ok {
		return ErrRoleGroupNotFound
	}
	if parentID != nil {
		if _, ok := r.roleGroups[*parentID]; !ok {
			return ErrRoleGroupNotFound
		}
		// walk up from the new parent; reaching id means a cycle
		current := *parentID
		for {
			if current == id {
				return ErrGroupCycle
			}
			parent := r.roleGroups[current].ParentID
			if parent == nil {
				break
			}
			current = *parent
		}
	}
	group.ParentID = parentID
	group.UpdatedAt = time.Now().UTC()
	r.roleGroups[id] = group
	return nil
}

func (r *InMemoryRbacRepository) DeleteRoleGroup(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roleGroups[id]; !ok {
		return ErrRoleGroupNotFound
	}
	delete(r.roleGroups, id)
	for gid, group := range r.roleGroups {
		if group.ParentID != nil && *group.ParentID == id {
			group.ParentID = nil
			r.roleGroups[gid] = group
		}
	}
	for rid, role := range r.roles {
		if role.GroupID != nil && *role.GroupID == id {
			role.GroupID = nil
			r.roles[rid] = role
		}
	}
	return nil
}

// Permission groups

func (r *InMemoryRbacRepository) CreatePermissionGroup(ctx context.Context, group PermissionGroup) (PermissionGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.permissionGroups {
		if existing.Name == group.Name {
			return PermissionGroup{}, ErrDuplicateName
		}
	}
	if group.ParentID != nil {
		if _, ok := r.permissionGroups[*group.ParentID]; !ok {
			return PermissionGroup{}, ErrPermissionGroupNotFound
		}
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now
	r.permissionGroups[group.ID] = group
	return group, nil
}

func (r *InMemoryRbacRepository) GetPermissionGroup(ctx context.Context, id uuid.UUID) (PermissionGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.permissionGroups[id]
	if !ok {
		return PermissionGroup{}, ErrPermissionGroupNotFound
	}
	return group, nil
}

func (r *InMemoryRbacRepository) ListPermissionGroups(ctx context.Context) ([]PermissionGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]PermissionGroup, 0, len(r.permissionGroups))
	for _, group := range r.permissionGroups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (r *InMemoryRbacRepository) SetPermissionGroupParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.permissionGroups[id]
	if !ok {
		return ErrPermissionGroupNotFound
	}
	if parentID != nil {
		if _, ok := r.permissionGroups[*parentID]; !ok {
			return ErrPermissionGroupNotFound
		}
		current := *parentID
		for {
			if current == id {
				return ErrGroupCycle
			}
			parent := r.permissionGroups[current].ParentID
			if parent == nil {
				break
			}
			current = *parent
		}
	}
	group.ParentID = parentID
	group.UpdatedAt = time.Now().UTC()
	r.permissionGroups[id] = group
	return nil
}

func (r *InMemoryRbacRepository) DeletePermissionGroup(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.permissionGroups[id]; !ok {
		return ErrPermissionGroupNotFound
	}
	delete(r.permissionGroups, id)
	for gid, group := range r.permissionGroups {
		if group.ParentID != nil && *group.ParentID == id {
			group.ParentID = nil
			r.permissionGroups[gid] = group
		}
	}
	return nil
}

// Assignments

func (r *InMemoryRbacRepository) AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	if r.userRoles[userID] == nil {
		r.userRoles[userID] = make(map[uuid.UUID]struct{})
	}
	r.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (r *InMemoryRbacRepository) RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.userRoles[userID], roleID)
	return nil
}

func (r *InMemoryRbacRepository) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, 0, len(r.userRoles[userID]))
	for roleID := range r.userRoles[userID] {
		if role, ok := r.roles[roleID]; ok {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *InMemoryRbacRepository) AssignRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	if _, ok := r.permissions[permissionID]; !ok {
		return ErrPermissionNotFound
	}
	if r.rolePermissions[roleID] == nil {
		r.rolePermissions[roleID] = make(map[uuid.UUID]struct{})
	}
	r.rolePermissions[roleID][permissionID] = struct{}{}
	return nil
}

func (r *InMemoryRbacRepository) RemoveRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rolePermissions[roleID], permissionID)
	return nil
}

func (r *InMemoryRbacRepository) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.roles[roleID]; !ok {
		return nil, ErrRoleNotFound
	}
	permissions := make([]Permission, 0, len(r.rolePermissions[roleID]))
	for permissionID := range r.rolePermissions[roleID] {
		if permission, ok := r.permissions[permissionID]; ok {
			permissions = append(permissions, permission)
		}
	}
	sort.Slice(permissions, func(i, j int) bool { return permissions[i].Name < permissions[j].Name })
	return permissions, nil
}

func (r *InMemoryRbacRepository) UserHasPermission(ctx context.Context, userID uuid.UUID, permissionName string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for roleID := range r.userRoles[userID] {
		for permissionID := range r.rolePermissions[roleID] {
			if permission, ok := r.permissions[permissionID]; ok && permission.Name == permissionName {
				return true, nil
			}
		}
	}
	return false, nil
}
