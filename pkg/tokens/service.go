// Package tokens issues and validates the access/refresh token pair used
// by the login flow.
package tokens

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/canyonlabs/usermgr/pkg/apierr"
	"github.com/canyonlabs/usermgr/pkg/audit"
	"github.com/canyonlabs/usermgr/pkg/obs"
	"github.com/canyonlabs/usermgr/pkg/registry"
)

// TokenUser is the identity a token pair is issued for
type TokenUser struct {
	ID    uuid.UUID
	Email string
	Roles []string
}

// TokenPair is the result of a successful login
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenService issues access/refresh tokens and validates them against the
// revocation registry. Refresh tokens do not rotate: a refresh token stays
// valid until its own expiry unless it is blacklisted.
type TokenService struct {
	generator TokenGenerator
	registry  registry.TokenRegistry
	auditSink audit.Sink

	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration

	now func() time.Time
}

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

// WithAccessTokenExpiry sets the access token lifetime
func WithAccessTokenExpiry(expiry time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		ts.accessTokenExpiry = expiry
	}
}

// WithRefreshTokenExpiry sets the refresh token lifetime
func WithRefreshTokenExpiry(expiry time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		ts.refreshTokenExpiry = expiry
	}
}

// WithAuditSink sets the sink token events are reported to
func WithAuditSink(sink audit.Sink) TokenServiceOption {
	return func(ts *TokenService) {
		ts.auditSink = sink
	}
}

// WithClock overrides the time source; used in tests
func WithClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		ts.now = now
	}
}

// NewTokenService creates a new TokenService
func NewTokenService(generator TokenGenerator, reg registry.TokenRegistry, options ...TokenServiceOption) *TokenService {
	ts := &TokenService{
		generator:          generator,
		registry:           reg,
		auditSink:          audit.NopSink{},
		accessTokenExpiry:  DefaultAccessTokenExpiry,
		refreshTokenExpiry: DefaultRefreshTokenExpiry,
	}
	for _, option := range options {
		option(ts)
	}
	if ts.now == nil {
		ts.now = time.Now
	}
	return ts
}

// RefreshTokenExpiry returns the configured refresh token lifetime
func (ts *TokenService) RefreshTokenExpiry() time.Duration {
	return ts.refreshTokenExpiry
}

// IssueLoginTokens creates a fresh access/refresh pair for the user. The
// refresh token carries a family id identifying the login session.
func (ts *TokenService) IssueLoginTokens(ctx context.Context, user TokenUser) (*TokenPair, error) {
	family := uuid.New().String()

	accessToken, accessClaims, err := ts.generator.GenerateToken(user.ID.String(), ts.accessTokenExpiry, AccessTokenType, user.Roles, family)
	if err != nil {
		slog.Error("failed to issue access token", "user_id", user.ID, "err", err)
		return nil, apierr.Internal(err)
	}
	obs.CountTokenIssued(AccessTokenType)

	refreshToken, refreshClaims, err := ts.generator.GenerateToken(user.ID.String(), ts.refreshTokenExpiry, RefreshTokenType, user.Roles, family)
	if err != nil {
		slog.Error("failed to issue refresh token", "user_id", user.ID, "err", err)
		return nil, apierr.Internal(err)
	}
	obs.CountTokenIssued(RefreshTokenType)

	ts.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventTokenIssued,
		UserID: user.ID,
		Detail: map[string]interface{}{"family": family},
	})

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// Refresh validates a refresh token and issues a new access token. The
// refresh token itself is returned to the caller unchanged and remains
// valid until its own expiry.
func (ts *TokenService) Refresh(ctx context.Context, refreshToken string) (string, *Claims, error) {
	claims, err := ts.validate(ctx, refreshToken, RefreshTokenType)
	if err != nil {
		return "", nil, err
	}

	userID, parseErr := claims.UserID()
	if parseErr != nil {
		obs.CountTokenRejected("malformed")
		return "", nil, apierr.New(apierr.CodeTokenMalformed, "malformed token subject")
	}

	accessToken, accessClaims, err := ts.generator.GenerateToken(claims.Subject, ts.accessTokenExpiry, AccessTokenType, claims.Roles, claims.Family)
	if err != nil {
		slog.Error("failed to issue access token on refresh", "user_id", userID, "err", err)
		return "", nil, apierr.Internal(err)
	}
	obs.CountTokenIssued(AccessTokenType)

	ts.auditSink.Record(ctx, audit.Event{
		Kind:   audit.EventTokenRefreshed,
		UserID: userID,
		Detail: map[string]interface{}{"family": claims.Family},
	})

	return accessToken, accessClaims, nil
}

// ValidateAccess validates an access token end to end: signature, type,
// expiry, blacklist and the per-user revocation epoch.
func (ts *TokenService) ValidateAccess(ctx context.Context, tokenStr string) (*Claims, error) {
	return ts.validate(ctx, tokenStr, AccessTokenType)
}

// ValidateRefresh validates a refresh token the same way; logout uses it
// to resolve the claims it blacklists.
func (ts *TokenService) ValidateRefresh(ctx context.Context, tokenStr string) (*Claims, error) {
	return ts.validate(ctx, tokenStr, RefreshTokenType)
}

// RevokeToken blacklists a single token until its natural expiry
func (ts *TokenService) RevokeToken(ctx context.Context, claims *Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := ts.registry.Blacklist(ctx, claims.ID, ttl); err != nil {
		return apierr.Internal(err)
	}
	return nil
}

// RevokeUser invalidates every token issued to the user before now. The
// marker lives for the refresh token lifetime, after which no affected
// token can still be live.
func (ts *TokenService) RevokeUser(ctx context.Context, userID uuid.UUID) error {
	if err := ts.registry.RevokeUser(ctx, userID, ts.now(), ts.refreshTokenExpiry); err != nil {
		return apierr.Internal(err)
	}
	return nil
}

func (ts *TokenService) validate(ctx context.Context, tokenStr, wantType string) (*Claims, error) {
	claims, err := ts.generator.ParseToken(tokenStr)
	if err != nil {
		return nil, ts.rejection(ctx, nil, err)
	}

	if claims.TokenType != wantType {
		return nil, ts.rejection(ctx, claims, errTokenTypeMismatch)
	}

	blacklisted, err := ts.registry.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	if blacklisted {
		return nil, ts.rejection(ctx, claims, errTokenBlacklisted)
	}

	if userID, parseErr := claims.UserID(); parseErr == nil {
		revokedAt, err := ts.registry.UserRevokedAt(ctx, userID)
		if err != nil {
			return nil, apierr.Internal(err)
		}
		if !revokedAt.IsZero() && claims.IssuedAt.Time.Before(revokedAt) {
			return nil, ts.rejection(ctx, claims, errTokenBlacklisted)
		}
	}

	return claims, nil
}

var (
	errTokenTypeMismatch = errors.New("unexpected token type")
	errTokenBlacklisted  = errors.New("token revoked")
)

// rejection classifies a validation failure, records it, and returns the
// client-facing error.
func (ts *TokenService) rejection(ctx context.Context, claims *Claims, cause error) error {
	var e *apierr.Error
	var reason string

	switch {
	case errors.Is(cause, jwt.ErrTokenExpired):
		reason = "expired"
		e = apierr.New(apierr.CodeTokenExpired, "token expired")
	case errors.Is(cause, errTokenBlacklisted):
		reason = "revoked"
		e = apierr.New(apierr.CodeTokenRevoked, "token revoked")
	default:
		reason = "malformed"
		e = apierr.New(apierr.CodeTokenMalformed, "malformed token")
	}
	obs.CountTokenRejected(reason)

	event := audit.Event{
		Kind:   audit.EventTokenRejected,
		Detail: map[string]interface{}{"reason": reason},
	}
	if claims != nil {
		if userID, err := claims.UserID(); err == nil {
			event.UserID = userID
		}
	}
	ts.auditSink.Record(ctx, event)

	return e
}
