package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryTokenRegistry keeps revocations in process memory. Intended for
// development and tests; entries survive until PurgeExpired or process exit.
type InMemoryTokenRegistry struct {
	mu        sync.RWMutex
	blacklist map[string]time.Time    // token id -> expiry deadline
	revoked   map[uuid.UUID]userEpoch // user id -> revocation marker
	now       func() time.Time
}

type userEpoch struct {
	at       time.Time
	deadline time.Time
}

// NewInMemoryTokenRegistry creates an empty registry
func NewInMemoryTokenRegistry() *InMemoryTokenRegistry {
	return &InMemoryTokenRegistry{
		blacklist: make(map[string]time.Time),
		revoked:   make(map[uuid.UUID]userEpoch),
		now:       time.Now,
	}
}

// WithClock overrides the time source; used in expiry tests
func (m *InMemoryTokenRegistry) WithClock(now func() time.Time) *InMemoryTokenRegistry {
	m.now = now
	return m
}

func (m *InMemoryTokenRegistry) Blacklist(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[tokenID] = m.now().Add(ttl)
	return nil
}

func (m *InMemoryTokenRegistry) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline, ok := m.blacklist[tokenID]
	if !ok {
		return false, nil
	}
	return m.now().Before(deadline), nil
}

func (m *InMemoryTokenRegistry) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[userID] = userEpoch{at: at.UTC(), deadline: m.now().Add(ttl)}
	return nil
}

func (m *InMemoryTokenRegistry) UserRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	epoch, ok := m.revoked[userID]
	if !ok || !m.now().Before(epoch.deadline) {
		return time.Time{}, nil
	}
	return epoch.at, nil
}

// PurgeExpired drops entries whose deadline has passed
func (m *InMemoryTokenRegistry) PurgeExpired(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, deadline := range m.blacklist {
		if !now.Before(deadline) {
			delete(m.blacklist, id)
		}
	}
	for id, epoch := range m.revoked {
		if !now.Before(epoch.deadline) {
			delete(m.revoked, id)
		}
	}
	return nil
}
