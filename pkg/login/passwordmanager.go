package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
)

// PasswordManager handles hashing, policy and history for credential
// changes. Token revocation after a change is the service's concern.
type PasswordManager struct {
	repository    LoginRepository
	hasher        PasswordHasher
	policyChecker PasswordPolicyChecker
}

// NewPasswordManager creates a new PasswordManager
func NewPasswordManager(repository LoginRepository, hasher PasswordHasher, policyChecker PasswordPolicyChecker) *PasswordManager {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	if policyChecker == nil {
		policyChecker = NewDefaultPasswordPolicyChecker(nil)
	}
	return &PasswordManager{
		repository:    repository,
		hasher:        hasher,
		policyChecker: policyChecker,
	}
}

// HashPassword hashes a password for storage
func (pm *PasswordManager) HashPassword(password string) (string, error) {
	return pm.hasher.Hash(password)
}

// CheckPasswordHash verifies a password against a stored hash
func (pm *PasswordManager) CheckPasswordHash(password, hashedPassword string) (bool, error) {
	return pm.hasher.Verify(password, hashedPassword)
}

// CheckPasswordComplexity validates a candidate against the policy,
// returning every failed rule at once.
func (pm *PasswordManager) CheckPasswordComplexity(password string) error {
	return PolicyError(pm.policyChecker.CheckPasswordComplexity(password))
}

// CheckPasswordHistory rejects a candidate that matches any of the last N
// stored hashes. N comes from the policy; zero disables the check.
func (pm *PasswordManager) CheckPasswordHistory(ctx context.Context, userID uuid.UUID, newPassword string) error {
	limit := pm.policyChecker.GetPolicy().HistoryCheckCount
	if limit <= 0 {
		return nil
	}

	entries, err := pm.repository.GetPasswordHistory(ctx, userID, limit)
	if err != nil {
		return fmt.Errorf("failed to get password history: %w", err)
	}

	for _, entry := range entries {
		match, err := pm.hasher.Verify(newPassword, entry.PasswordHash)
		if err != nil {
			return fmt.Errorf("failed to compare against history: %w", err)
		}
		if match {
			return apierr.New(apierr.CodePasswordReused,
				fmt.Sprintf("password was used within the last %d changes", limit)).WithField("new_password")
		}
	}
	return nil
}

// ValidateNewPassword runs complexity and history checks for a candidate
func (pm *PasswordManager) ValidateNewPassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	if err := pm.CheckPasswordComplexity(newPassword); err != nil {
		return err
	}
	return pm.CheckPasswordHistory(ctx, userID, newPassword)
}

// ChangePassword verifies the current password, validates the new one and
// stores it. The repository appends the history row in the same transaction
// as the hash update.
func (pm *PasswordManager) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := pm.repository.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apierr.Unauthenticated()
		}
		return apierr.Internal(err)
	}

	match, err := pm.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return apierr.Internal(err)
	}
	if !match {
		return apierr.Unauthenticated()
	}

	// the current hash may predate the history window
	reused, err := pm.hasher.Verify(newPassword, user.PasswordHash)
	if err != nil {
		return apierr.Internal(err)
	}
	if reused {
		return apierr.New(apierr.CodePasswordReused, "password matches the current password").WithField("new_password")
	}

	if err := pm.ValidateNewPassword(ctx, userID, newPassword); err != nil {
		return err
	}

	newHash, err := pm.hasher.Hash(newPassword)
	if err != nil {
		return apierr.Internal(err)
	}

	if err := pm.repository.UpdatePassword(ctx, userID, newHash); err != nil {
		slog.Error("failed to update password", "user_id", userID, "err", err)
		return apierr.Internal(err)
	}
	return nil
}
