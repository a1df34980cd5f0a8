// Package iam implements administrative user management: CRUD, activation
// and admin lock control, layered over the same users table the login
// service authenticates against.
package iam

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/audit"
	"github.com/canyonlabs/usermgr/pkg/login"
	"github.com/canyonlabs/usermgr/pkg/rbac"
)

// TokenRevoker invalidates all outstanding tokens for a user
type TokenRevoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID) error
}

// UserWithRoles is a user plus their directly assigned roles
type UserWithRoles struct {
	User
	Roles []rbac.Role
}

// UserService administers user accounts
type UserService struct {
	repository      IamRepository
	passwordManager *login.PasswordManager
	rbacService     *rbac.RbacService
	tokenRevoker    TokenRevoker
	auditSink       audit.Sink
}

// UserServiceOption configures a UserService
type UserServiceOption func(*UserService)

// WithTokenRevoker sets the revoker invoked when an account is deleted,
// locked or deactivated.
func WithTokenRevoker(revoker TokenRevoker) UserServiceOption {
	return func(s *UserService) {
		s.tokenRevoker = revoker
	}
}

// WithAuditSink sets the sink admin mutations are reported to
func WithAuditSink(sink audit.Sink) UserServiceOption {
	return func(s *UserService) {
		s.auditSink = sink
	}
}

// NewUserService creates a new UserService
func NewUserService(repository IamRepository, passwordManager *login.PasswordManager, rbacService *rbac.RbacService, options ...UserServiceOption) *UserService {
	s := &UserService{
		repository:      repository,
		passwordManager: passwordManager,
		rbacService:     rbacService,
		auditSink:       audit.NopSink{},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func mapUserErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound):
		return apierr.New(apierr.CodeNotFound, "user not found")
	case errors.Is(err, ErrDuplicateEmail):
		return apierr.New(apierr.CodeConflict, "email already registered").WithField("email")
	default:
		return apierr.Internal(err)
	}
}

// CreateUser validates the email and initial password, hashes it and
// stores the account.
func (s *UserService) CreateUser(ctx context.Context, email, displayName, password string, active bool) (*UserWithRoles, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apierr.InvalidInput("email", "not a valid address")
	}
	if err := s.passwordManager.CheckPasswordComplexity(password); err != nil {
		return nil, err
	}

	hash, err := s.passwordManager.HashPassword(password)
	if err != nil {
		return nil, apierr.Internal(err)
	}

	user, err := s.repository.CreateUser(ctx, CreateUserParams{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Active:       active,
	})
	if err != nil {
		return nil, mapUserErr(err)
	}

	s.auditSink.Record(ctx, audit.Event{Kind: audit.EventUserCreated, UserID: user.ID})
	return &UserWithRoles{User: user}, nil
}

// GetUser loads a user and their roles
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*UserWithRoles, error) {
	user, err := s.repository.GetUser(ctx, id)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return s.withRoles(ctx, user)
}

// ListUsers returns all users with their roles
func (s *UserService) ListUsers(ctx context.Context) ([]UserWithRoles, error) {
	users, err := s.repository.ListUsers(ctx)
	if err != nil {
		return nil, mapUserErr(err)
	}
	result := make([]UserWithRoles, 0, len(users))
	for _, user := range users {
		withRoles, err := s.withRoles(ctx, user)
		if err != nil {
			return nil, err
		}
		result = append(result, *withRoles)
	}
	return result, nil
}

// UpdateUser patches a user; nil fields stay unchanged. Deactivating an
// account revokes its outstanding tokens.
func (s *UserService) UpdateUser(ctx context.Context, id uuid.UUID, params UpdateUserParams) (*UserWithRoles, error) {
	if params.Email != nil {
		if _, err := mail.ParseAddress(*params.Email); err != nil {
			return nil, apierr.InvalidInput("email", "not a valid address")
		}
	}

	user, err := s.repository.UpdateUser(ctx, id, params)
	if err != nil {
		return nil, mapUserErr(err)
	}

	if params.Active != nil && !*params.Active {
		s.revokeTokens(ctx, id)
	}

	s.auditSink.Record(ctx, audit.Event{Kind: audit.EventUserUpdated, UserID: id})
	return s.withRoles(ctx, user)
}

// DeleteUser removes the account, its role assignments and its tokens
func (s *UserService) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.DeleteUser(ctx, id); err != nil {
		return mapUserErr(err)
	}
	s.revokeTokens(ctx, id)
	s.auditSink.Record(ctx, audit.Event{Kind: audit.EventUserDeleted, UserID: id})
	return nil
}

// LockUser locks the account until the given time and revokes its tokens
func (s *UserService) LockUser(ctx context.Context, id uuid.UUID, until time.Time) error {
	if err := s.repository.SetLock(ctx, id, &until); err != nil {
		return mapUserErr(err)
	}
	s.revokeTokens(ctx, id)
	s.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventAccountLocked,
		UserID: id,
		Detail: map[string]interface{}{"locked_until": until, "by": "admin"},
	})
	return nil
}

// UnlockUser clears the lock and resets the failed-attempt counter
func (s *UserService) UnlockUser(ctx context.Context, id uuid.UUID) error {
	if err := s.repository.SetLock(ctx, id, nil); err != nil {
		return mapUserErr(err)
	}
	s.auditSink.Record(ctx, audit.Event{Kind: audit.EventUserUpdated, UserID: id,
		Detail: map[string]interface{}{"action": "unlock"}})
	return nil
}

func (s *UserService) withRoles(ctx context.Context, user User) (*UserWithRoles, error) {
	roles, err := s.rbacService.EffectiveRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &UserWithRoles{User: user, Roles: roles}, nil
}

func (s *UserService) revokeTokens(ctx context.Context, id uuid.UUID) {
	if s.tokenRevoker == nil {
		return
	}
	if err := s.tokenRevoker.RevokeUser(ctx, id); err != nil {
		slog.Error("failed to revoke tokens", "user_id", id, "err", err)
	}
}
