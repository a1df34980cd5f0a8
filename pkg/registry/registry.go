// Package registry tracks revoked tokens. Individual tokens are
// blacklisted by JTI until their natural expiry; whole users carry a
// revocation timestamp that invalidates every token issued before it.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenRegistry is the revocation store consulted on every validation
type TokenRegistry interface {
	// Blacklist marks a token id revoked for ttl. Re-blacklisting an
	// already revoked id is a no-op.
	Blacklist(ctx context.Context, tokenID string, ttl time.Duration) error

	// IsBlacklisted reports whether the token id is currently revoked.
	// Expired entries are never reported.
	IsBlacklisted(ctx context.Context, tokenID string) (bool, error)

	// RevokeUser records that every token issued to userID before at is
	// invalid. The marker expires after ttl (the refresh token lifetime,
	// after which no affected token can still be live).
	RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error

	// UserRevokedAt returns the user's revocation timestamp, or the zero
	// time when no marker exists.
	UserRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, error)

	// PurgeExpired removes expired entries on stores without native TTL
	PurgeExpired(ctx context.Context) error
}
