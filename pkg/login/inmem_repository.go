package login

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryLoginRepository implements LoginRepository with in-memory maps.
// Used in tests and local development.
type InMemoryLoginRepository struct {
	mu              sync.RWMutex
	users           map[uuid.UUID]User
	usersByEmail    map[string]uuid.UUID
	passwordHistory map[uuid.UUID][]PasswordHistoryEntry
}

// NewInMemoryLoginRepository creates an empty repository
func NewInMemoryLoginRepository() *InMemoryLoginRepository {
	return &InMemoryLoginRepository{
		users:           make(map[uuid.UUID]User),
		usersByEmail:    make(map[string]uuid.UUID),
		passwordHistory: make(map[uuid.UUID][]PasswordHistoryEntry),
	}
}

// AddUser seeds a user record. Emails are matched case-insensitively.
func (r *InMemoryLoginRepository) AddUser(user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, exists := r.usersByEmail[key]; exists {
		return ErrDuplicateEmail
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	r.users[user.ID] = user
	r.usersByEmail[key] = user.ID
	if user.PasswordHash != "" {
		r.passwordHistory[user.ID] = append(r.passwordHistory[user.ID], PasswordHistoryEntry{
			ID:           uuid.New(),
			UserID:       user.ID,
			PasswordHash: user.PasswordHash,
			CreatedAt:    now,
		})
	}
	return nil
}

func (r *InMemoryLoginRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *InMemoryLoginRepository) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *InMemoryLoginRepository) IncrementFailedAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.FailedAttempts++
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return user.FailedAttempts, nil
}

func (r *InMemoryLoginRepository) LockAccount(ctx context.Context, id uuid.UUID, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	until = until.UTC()
	user.LockedUntil = &until
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}

func (r *InMemoryLoginRepository) ResetFailedAttempts(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}

func (r *InMemoryLoginRepository) UpdatePassword(ctx context.Context, id uuid.UUID, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	now := time.Now().UTC()
	user.PasswordHash = newHash
	user.PasswordChangedAt = now
	user.UpdatedAt = now
	r.users[id] = user

	r.passwordHistory[id] = append(r.passwordHistory[id], PasswordHistoryEntry{
		ID:           uuid.New(),
		UserID:       id,
		PasswordHash: newHash,
		CreatedAt:    now,
	})
	return nil
}

func (r *InMemoryLoginRepository) GetPasswordHistory(ctx context.Context, userID uuid.UUID, limit int) ([]PasswordHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]PasswordHistoryEntry, len(r.passwordHistory[userID]))
	copy(entries, r.passwordHistory[userID])

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
