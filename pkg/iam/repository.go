package iam

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for IAM repositories
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// User is the administrative view of an account
type User struct {
	ID             uuid.UUID
	Email          string
	DisplayName    string
	Active         bool
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateUserParams carries the fields needed to create an account
type CreateUserParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Active       bool
}

// UpdateUserParams patches a user; nil fields are left unchanged
type UpdateUserParams struct {
	Email       *string
	DisplayName *string
	Active      *bool
}

// IamRepository is the store behind user administration
type IamRepository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, params UpdateUserParams) (User, error)

	// DeleteUser removes the account and its role assignments in one
	// transaction; roles themselves are untouched.
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// SetLock sets or clears locked_until. Clearing also resets the
	// failed-attempt counter.
	SetLock(ctx context.Context, id uuid.UUID, until *time.Time) error
}
