// Package api exposes the RBAC administration endpoints: roles,
// permissions, the two group trees and role-permission assignment.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	"github.com/canyonlabs/usermgr/pkg/response"
)

// Handle serves the RBAC administration endpoints
type Handle struct {
	rbacService *rbac.RbacService
}

// NewHandle creates a new Handle
func NewHandle(rbacService *rbac.RbacService) *Handle {
	return &Handle{rbacService: rbacService}
}

// Routes mounts the RBAC endpoints; callers wrap them in the auth and
// admin-role middleware.
func (h *Handle) Routes(r chi.Router) {
	r.Route("/role", func(r chi.Router) {
		r.Get("/", h.ListRoles)
		r.Post("/", h.CreateRole)
		r.Route("/{roleID}", func(r chi.Router) {
			r.Get("/", h.GetRole)
			r.Put("/", h.UpdateRole)
			r.Delete("/", h.DeleteRole)
			r.Get("/permissions", h.ListRolePermissions)
			r.Put("/permissions/{permissionID}", h.AssignPermission)
			r.Delete("/permissions/{permissionID}", h.RemovePermission)
		})
	})
	r.Route("/permission", func(r chi.Router) {
		r.Get("/", h.ListPermissions)
		r.Post("/", h.CreatePermission)
		r.Route("/{permissionID}", func(r chi.Router) {
			r.Get("/", h.GetPermission)
			r.Put("/", h.UpdatePermission)
			r.Delete("/", h.DeletePermission)
		})
	})
	r.Route("/role-groups", func(r chi.Router) {
		r.Get("/", h.ListRoleGroups)
		r.Post("/", h.CreateRoleGroup)
		r.Route("/{groupID}", func(r chi.Router) {
			r.Get("/", h.GetRoleGroup)
			r.Put("/parent", h.SetRoleGroupParent)
			r.Delete("/", h.DeleteRoleGroup)
		})
	})
	r.Route("/permission-groups", func(r chi.Router) {
		r.Get("/", h.ListPermissionGroups)
		r.Post("/", h.CreatePermissionGroup)
		r.Route("/{groupID}", func(r chi.Router) {
			r.Get("/", h.GetPermissionGroup)
			r.Put("/parent", h.SetPermissionGroupParent)
			r.Delete("/", h.DeletePermissionGroup)
		})
	})
}

type RoleResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toRoleResponse(role rbac.Role) RoleResponse {
	return RoleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		GroupID:     role.GroupID,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

type PermissionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	GroupID     uuid.UUID `json:"group_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toPermissionResponse(permission rbac.Permission) PermissionResponse {
	return PermissionResponse{
		ID:          permission.ID,
		Name:        permission.Name,
		Description: permission.Description,
		GroupID:     permission.GroupID,
		CreatedAt:   permission.CreatedAt,
		UpdatedAt:   permission.UpdatedAt,
	}
}

type GroupResponse struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CreateRoleRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	GroupID     *uuid.UUID `json:"group_id"`
}

type UpdateRoleRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	GroupID     *uuid.UUID `json:"group_id"`
}

type CreatePermissionRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	GroupID     uuid.UUID `json:"group_id"`
}

type UpdatePermissionRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	GroupID     uuid.UUID `json:"group_id"`
}

type CreateGroupRequest struct {
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parent_id"`
}

type SetGroupParentRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

// Roles

func (h *Handle) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.rbacService.ListRoles(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}
	result := make([]RoleResponse, 0, len(roles))
	for _, role := range roles {
		result = append(result, toRoleResponse(role))
	}
	response.OK(w, r, "roles", result)
}

func (h *Handle) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	role, err := h.rbacService.CreateRole(r.Context(), req.Name, req.Description, req.GroupID)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Created(w, r, "role created", toRoleResponse(role))
}

func (h *Handle) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.rbacService.GetRole(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role", toRoleResponse(role))
}

func (h *Handle) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	role, err := h.rbacService.UpdateRole(r.Context(), rbac.Role{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role updated", toRoleResponse(role))
}

func (h *Handle) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.rbacService.DeleteRole(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role deleted", nil)
}

// Role-permission assignment

func (h *Handle) ListRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissions, err := h.rbacService.ListRolePermissions(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	result := make([]PermissionResponse, 0, len(permissions))
	for _, permission := range permissions {
		result = append(result, toPermissionResponse(permission))
	}
	response.OK(w, r, "permissions", result)
}

func (h *Handle) AssignPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.rbacService.AssignRolePermission(r.Context(), roleID, permissionID); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission assigned", nil)
}

func (h *Handle) RemovePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.rbacService.RemoveRolePermission(r.Context(), roleID, permissionID); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission removed", nil)
}

// Permissions

func (h *Handle) ListPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.rbacService.ListPermissions(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}
	result := make([]PermissionResponse, 0, len(permissions))
	for _, permission := range permissions {
		result = append(result, toPermissionResponse(permission))
	}
	response.OK(w, r, "permissions", result)
}

func (h *Handle) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req CreatePermissionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}
	if req.GroupID == uuid.Nil {
		response.Err(w, r, apierr.InvalidInput("group_id", "permission group is required"))
		return
	}

	permission, err := h.rbacService.CreatePermission(r.Context(), req.Name, req.Description, req.GroupID)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Created(w, r, "permission created", toPermissionResponse(permission))
}

func (h *Handle) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	permission, err := h.rbacService.GetPermission(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission", toPermissionResponse(permission))
}

func (h *Handle) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}

	var req UpdatePermissionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	permission, err := h.rbacService.UpdatePermission(r.Context(), rbac.Permission{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		GroupID:     req.GroupID,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission updated", toPermissionResponse(permission))
}

func (h *Handle) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.rbacService.DeletePermission(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission deleted", nil)
}

// Role groups

func (h *Handle) ListRoleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.rbacService.ListRoleGroups(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}
	result := make([]GroupResponse, 0, len(groups))
	for _, group := range groups {
		result = append(result, GroupResponse{
			ID: group.ID, Name: group.Name, ParentID: group.ParentID,
			CreatedAt: group.CreatedAt, UpdatedAt: group.UpdatedAt,
		})
	}
	response.OK(w, r, "role groups", result)
}

func (h *Handle) CreateRoleGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	group, err := h.rbacService.CreateRoleGroup(r.Context(), req.Name, req.ParentID)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Created(w, r, "role group created", GroupResponse{
		ID: group.ID, Name: group.Name, ParentID: group.ParentID,
		CreatedAt: group.CreatedAt, UpdatedAt: group.UpdatedAt,
	})
}

func (h *Handle) GetRoleGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	group, err := h.rbacService.GetRoleGroup(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role group", GroupResponse{
		ID: group.ID, Name: group.Name, ParentID: group.ParentID,
		CreatedAt: group.CreatedAt, UpdatedAt: group.UpdatedAt,
	})
}

func (h *Handle) SetRoleGroupParent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}

	var req SetGroupParentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	if err := h.rbacService.SetRoleGroupParent(r.Context(), id, req.ParentID); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role group parent updated", nil)
}

func (h *Handle) DeleteRoleGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.rbacService.DeleteRoleGroup(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role group deleted", nil)
}

// Permission groups

func (h *Handle) ListPermissionGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.rbacService.ListPermissionGroups(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}
	result := make([]GroupResponse, 0, len(groups))
	for _, group := range groups {
		result = append(result, GroupResponse{
			ID: group.ID, Name: group.Name, ParentID: group.ParentID,
			CreatedAt: group.CreatedAt, UpdatedAt: group.UpdatedAt,
		})
	}
	response.OK(w, r, "permission groups", result)
}

func (h *Handle) CreatePermissionGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	group, err := h.rbacService.CreatePermissionGroup(r.Context(), req.Name, req.ParentID)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Created(w, r, "permission group created", GroupResponse{
		ID: group.ID, Name: group.Name, ParentID: group.ParentID,
		CreatedAt: group.CreatedAt, UpdatedAt: group.UpdatedAt,
	})
}

func (h *Handle) GetPermissionGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	group, err := h.rbacService.GetPermissionGroup(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission group", GroupResponse{
		ID: group.ID, Name: group.Name, ParentID: group.ParentID,
		CreatedAt: group.CreatedAt, UpdatedAt: group.UpdatedAt,
	})
}

func (h *Handle) SetPermissionGroupParent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}

	var req SetGroupParentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	if err := h.rbacService.SetPermissionGroupParent(r.Context(), id, req.ParentID); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission group parent updated", nil)
}

func (h *Handle) DeletePermissionGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	if err := h.rbacService.DeletePermissionGroup(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "permission group deleted", nil)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.Err(w, r, apierr.InvalidInput(param, "not a valid uuid"))
		return uuid.Nil, false
	}
	return id, true
}
