// Package api exposes the administrative user endpoints: CRUD, lock and
// unlock, and role assignment.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/iam"
	"github.com/canyonlabs/usermgr/pkg/rbac"
	"github.com/canyonlabs/usermgr/pkg/response"
)

// Handle serves the user administration endpoints
type Handle struct {
	userService *iam.UserService
	rbacService *rbac.RbacService
}

// NewHandle creates a new Handle
func NewHandle(userService *iam.UserService, rbacService *rbac.RbacService) *Handle {
	return &Handle{userService: userService, rbacService: rbacService}
}

// Routes mounts the user endpoints; callers wrap them in the auth and
// admin-role middleware.
func (h *Handle) Routes(r chi.Router) {
	r.Get("/", h.ListUsers)
	r.Post("/", h.CreateUser)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Put("/", h.UpdateUser)
		r.Delete("/", h.DeleteUser)
		r.Post("/lock", h.LockUser)
		r.Post("/unlock", h.UnlockUser)
		r.Get("/roles", h.ListUserRoles)
		r.Put("/roles/{roleID}", h.AssignRole)
		r.Delete("/roles/{roleID}", h.RemoveRole)
	})
}

type RoleRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type UserResponse struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	DisplayName    string     `json:"display_name"`
	Active         bool       `json:"active"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	Roles          []RoleRef  `json:"roles"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toUserResponse(user *iam.UserWithRoles) UserResponse {
	roles := make([]RoleRef, 0, len(user.Roles))
	for _, role := range user.Roles {
		roles = append(roles, RoleRef{ID: role.ID, Name: role.Name})
	}
	return UserResponse{
		ID:             user.ID,
		Email:          user.Email,
		DisplayName:    user.DisplayName,
		Active:         user.Active,
		FailedAttempts: user.FailedAttempts,
		LockedUntil:    user.LockedUntil,
		Roles:          roles,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.UpdatedAt,
	}
}

type CreateUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Active      *bool  `json:"active"`
}

type UpdateUserRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"display_name"`
	Active      *bool   `json:"active"`
}

type LockUserRequest struct {
	Until time.Time `json:"until"`
}

// ListUsers returns all users with their roles
func (h *Handle) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}

	result := make([]UserResponse, 0, len(users))
	for i := range users {
		result = append(result, toUserResponse(&users[i]))
	}
	response.OK(w, r, "users", result)
}

// CreateUser creates an account; the initial password must pass policy
func (h *Handle) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		response.Err(w, r, apierr.InvalidInput("email", "email and password are required"))
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	user, err := h.userService.CreateUser(r.Context(), req.Email, req.DisplayName, req.Password, active)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.Created(w, r, "user created", toUserResponse(user))
}

// GetUser returns a single user with roles
func (h *Handle) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	user, err := h.userService.GetUser(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "user", toUserResponse(user))
}

// UpdateUser patches a user; absent fields are left unchanged
func (h *Handle) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}

	user, err := h.userService.UpdateUser(r.Context(), id, iam.UpdateUserParams{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Active:      req.Active,
	})
	if err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "user updated", toUserResponse(user))
}

// DeleteUser removes the account and its role assignments
func (h *Handle) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.userService.DeleteUser(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "user deleted", nil)
}

// LockUser locks the account until the requested time
func (h *Handle) LockUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req LockUserRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}
	if !req.Until.After(time.Now()) {
		response.Err(w, r, apierr.InvalidInput("until", "must be in the future"))
		return
	}

	if err := h.userService.LockUser(r.Context(), id, req.Until); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "user locked", nil)
}

// UnlockUser clears the lock and resets the failed-attempt counter
func (h *Handle) UnlockUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.userService.UnlockUser(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "user unlocked", nil)
}

// ListUserRoles returns the user's directly assigned roles
func (h *Handle) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	// 404 for unknown users rather than an empty list
	if _, err := h.userService.GetUser(r.Context(), id); err != nil {
		response.Err(w, r, err)
		return
	}

	roles, err := h.rbacService.EffectiveRoles(r.Context(), id)
	if err != nil {
		response.Err(w, r, err)
		return
	}

	result := make([]RoleRef, 0, len(roles))
	for _, role := range roles {
		result = append(result, RoleRef{ID: role.ID, Name: role.Name})
	}
	response.OK(w, r, "roles", result)
}

// AssignRole assigns a role to the user; repeating it is a no-op
func (h *Handle) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}

	if _, err := h.userService.GetUser(r.Context(), userID); err != nil {
		response.Err(w, r, err)
		return
	}

	if err := h.rbacService.AssignUserRole(r.Context(), userID, roleID); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role assigned", nil)
}

// RemoveRole removes a role assignment from the user
func (h *Handle) RemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}

	if err := h.rbacService.RemoveUserRole(r.Context(), userID, roleID); err != nil {
		response.Err(w, r, err)
		return
	}
	response.OK(w, r, "role removed", nil)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.Err(w, r, apierr.InvalidInput(param, "not a valid uuid"))
		return uuid.Nil, false
	}
	return id, true
}
