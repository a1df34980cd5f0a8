package login

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for login repositories
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// User is the credential-store record for an account
type User struct {
	ID                uuid.UUID
	Email             string
	DisplayName       string
	PasswordHash      string
	Active            bool
	FailedAttempts    int
	LockedUntil       *time.Time
	PasswordChangedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Locked reports whether the account is locked at the given instant
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// PasswordHistoryEntry is one previously used password hash
type PasswordHistoryEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PasswordHash string
	CreatedAt    time.Time
}

// LoginRepository is the credential store behind the login service
type LoginRepository interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (User, error)

	// IncrementFailedAttempts atomically bumps the counter and returns the
	// new value.
	IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error)

	// LockAccount sets locked_until. The failed-attempt counter is kept so
	// an expired lock followed by another failure re-locks immediately
	// until a success or an admin unlock resets it.
	LockAccount(ctx context.Context, id uuid.UUID, until time.Time) error

	// ResetFailedAttempts clears the counter and any lock
	ResetFailedAttempts(ctx context.Context, id uuid.UUID) error

	// UpdatePassword stores the new hash and appends exactly one password
	// history row in the same transaction.
	UpdatePassword(ctx context.Context, id uuid.UUID, newHash string) error

	// GetPasswordHistory returns the most recent entries, newest first,
	// capped at limit.
	GetPasswordHistory(ctx context.Context, userID uuid.UUID, limit int) ([]PasswordHistoryEntry, error)
}
