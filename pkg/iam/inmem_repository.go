package iam

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryIamRepository implements IamRepository with in-memory maps.
// Used in tests and local development.
type InMemoryIamRepository struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]User
	hashes       map[uuid.UUID]string
	usersByEmail map[string]uuid.UUID
}

// NewInMemoryIamRepository creates an empty repository
func NewInMemoryIamRepository() *InMemoryIamRepository {
	return &InMemoryIamRepository{
		users:        make(map[uuid.UUID]User),
		hashes:       make(map[uuid.UUID]string),
		usersByEmail: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryIamRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(params.Email)
	if _, exists := r.usersByEmail[key]; exists {
		return User{}, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user := User{
		ID:          uuid.New(),
		Email:       params.Email,
		DisplayName: params.DisplayName,
		Active:      params.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.users[user.ID] = user
	r.hashes[user.ID] = params.PasswordHash
	r.usersByEmail[key] = user.ID
	return user, nil
}

func (r *InMemoryIamRepository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *InMemoryIamRepository) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (r *InMemoryIamRepository) UpdateUser(ctx context.Context, id uuid.UUID, params UpdateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}

	if params.Email != nil {
		key := strings.ToLower(*params.Email)
		if existing, exists := r.usersByEmail[key]; exists && existing != id {
			return User{}, ErrDuplicateEmail
		}
		delete(r.usersByEmail, strings.ToLower(user.Email))
		r.usersByEmail[key] = id
		user.Email = *params.Email
	}
	if params.DisplayName != nil {
		user.DisplayName = *params.DisplayName
	}
	if params.Active != nil {
		user.Active = *params.Active
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return user, nil
}

func (r *InMemoryIamRepository) DeleteUser(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	delete(r.hashes, id)
	delete(r.usersByEmail, strings.ToLower(user.Email))
	return nil
}

func (r *InMemoryIamRepository) SetLock(ctx context.Context, id uuid.UUID, until *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if until != nil {
		u := until.UTC()
		user.LockedUntil = &u
	} else {
		user.LockedUntil = nil
		user.FailedAttempts = 0
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}
