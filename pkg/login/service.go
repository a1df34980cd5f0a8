// Package login implements the credential store, password policy and the
// account lockout state machine behind the authentication endpoints.
package login

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/audit"
	"github.com/canyonlabs/usermgr/pkg/obs"
)

// Default lockout parameters
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockDuration      = 15 * time.Minute
)

// TokenRevoker invalidates all outstanding tokens for a user. Wired to the
// token service; split out so this package stays independent of it.
type TokenRevoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID) error
}

// LoginService authenticates credentials and drives the lockout state
// machine.
type LoginService struct {
	repository      LoginRepository
	passwordManager *PasswordManager
	auditSink       audit.Sink
	tokenRevoker    TokenRevoker

	maxFailedAttempts int
	lockDuration      time.Duration

	now func() time.Time
}

// LoginServiceOption configures a LoginService
type LoginServiceOption func(*LoginService)

// WithMaxFailedAttempts sets the failure threshold that locks an account
func WithMaxFailedAttempts(n int) LoginServiceOption {
	return func(s *LoginService) {
		s.maxFailedAttempts = n
	}
}

// WithLockDuration sets how long a lockout lasts
func WithLockDuration(d time.Duration) LoginServiceOption {
	return func(s *LoginService) {
		s.lockDuration = d
	}
}

// WithAuditSink sets the sink login events are reported to
func WithAuditSink(sink audit.Sink) LoginServiceOption {
	return func(s *LoginService) {
		s.auditSink = sink
	}
}

// WithTokenRevoker sets the revoker invoked after a password change
func WithTokenRevoker(revoker TokenRevoker) LoginServiceOption {
	return func(s *LoginService) {
		s.tokenRevoker = revoker
	}
}

// WithClock overrides the time source; used in tests
func WithClock(now func() time.Time) LoginServiceOption {
	return func(s *LoginService) {
		s.now = now
	}
}

// NewLoginService creates a new LoginService
func NewLoginService(repository LoginRepository, passwordManager *PasswordManager, options ...LoginServiceOption) *LoginService {
	s := &LoginService{
		repository:        repository,
		passwordManager:   passwordManager,
		auditSink:         audit.NopSink{},
		maxFailedAttempts: DefaultMaxFailedAttempts,
		lockDuration:      DefaultLockDuration,
	}
	for _, option := range options {
		option(s)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Login authenticates an email/password pair. Unknown accounts and wrong
// passwords produce the same client-facing error; a locked account is
// reported as locked before the password is even checked.
func (s *LoginService) Login(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repository.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			obs.CountLogin("failure")
			s.auditSink.Record(ctx, audit.Event{
				Kind:   audit.EventLoginFailed,
				Detail: map[string]interface{}{"email": email, "reason": "unknown_account"},
			})
			return nil, apierr.Unauthenticated()
		}
		return nil, apierr.Internal(err)
	}

	now := s.now()

	if user.Locked(now) {
		obs.CountLogin("locked")
		s.auditSink.Record(ctx, audit.Event{
			Kind:   audit.EventLoginFailed,
			UserID: user.ID,
			Detail: map[string]interface{}{"reason": "account_locked"},
		})
		return nil, apierr.New(apierr.CodeAccountLocked, "account temporarily locked")
	}

	if !user.Active {
		obs.CountLogin("failure")
		s.auditSink.Record(ctx, audit.Event{
			Kind:   audit.EventLoginFailed,
			UserID: user.ID,
			Detail: map[string]interface{}{"reason": "inactive_account"},
		})
		return nil, apierr.Unauthenticated()
	}

	match, err := s.passwordManager.CheckPasswordHash(password, user.PasswordHash)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if !match {
		return nil, s.recordFailure(ctx, &user)
	}

	if user.FailedAttempts > 0 || user.LockedUntil != nil {
		if err := s.repository.ResetFailedAttempts(ctx, user.ID); err != nil {
			slog.Warn("failed to reset failed attempts", "user_id", user.ID, "err", err)
		}
	}

	obs.CountLogin("success")
	s.auditSink.Record(ctx, audit.Event{Kind: audit.EventLoginSucceeded, UserID: user.ID})
	return &user, nil
}

// recordFailure bumps the failure counter and locks the account when the
// threshold is reached. The client-facing error for a failure that causes
// a lock is still the generic one; the lock only shows on the next attempt.
func (s *LoginService) recordFailure(ctx context.Context, user *User) error {
	count, err := s.repository.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		return apierr.Internal(err)
	}

	obs.CountLogin("failure")
	s.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventLoginFailed,
		UserID: user.ID,
		Detail: map[string]interface{}{"reason": "bad_password", "failed_attempts": count},
	})

	if count >= s.maxFailedAttempts {
		until := s.now().Add(s.lockDuration)
		if err := s.repository.LockAccount(ctx, user.ID, until); err != nil {
			return apierr.Internal(err)
		}
		obs.CountLockout()
		s.auditSink.Record(ctx, audit.Event{
			Kind:   audit.EventAccountLocked,
			UserID: user.ID,
			Detail: map[string]interface{}{"locked_until": until},
		})
		slog.Warn("account locked after repeated failures", "user_id", user.ID, "locked_until", until)
	}

	return apierr.Unauthenticated()
}

// ChangePassword changes the user's password and revokes every token
// issued before the change.
func (s *LoginService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	if err := s.passwordManager.ChangePassword(ctx, userID, currentPassword, newPassword); err != nil {
		return err
	}

	if s.tokenRevoker != nil {
		if err := s.tokenRevoker.RevokeUser(ctx, userID); err != nil {
			slog.Error("failed to revoke tokens after password change", "user_id", userID, "err", err)
			return apierr.Internal(err)
		}
	}

	s.auditSink.Record(ctx, audit.Event{Kind: audit.EventPasswordChanged, UserID: userID})
	return nil
}

// GetUser loads a user by id
func (s *LoginService) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := s.repository.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, apierr.NotFound("user", userID.String())
		}
		return nil, apierr.Internal(err)
	}
	return &user, nil
}

// PasswordManager exposes the manager for admin flows
func (s *LoginService) PasswordManager() *PasswordManager {
	return s.passwordManager
}
