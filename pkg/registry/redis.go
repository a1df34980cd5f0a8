package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	blacklistKeyPrefix = "usermgr:blacklist:"
	revokedKeyPrefix   = "usermgr:revoked:"
)

// RedisTokenRegistry stores revocations in Redis using native key TTLs
type RedisTokenRegistry struct {
	client *redis.Client
}

// NewRedisTokenRegistry connects to Redis at the given URL
// (redis://host:port/db) and verifies the connection.
func NewRedisTokenRegistry(redisURL string) (*RedisTokenRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisTokenRegistry{client: client}, nil
}

// NewRedisTokenRegistryFromClient wraps an existing client; used in tests
func NewRedisTokenRegistryFromClient(client *redis.Client) *RedisTokenRegistry {
	return &RedisTokenRegistry{client: client}
}

func (r *RedisTokenRegistry) Blacklist(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, blacklistKeyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisTokenRegistry) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	err := r.client.Get(ctx, blacklistKeyPrefix+tokenID).Err()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	return true, nil
}

func (r *RedisTokenRegistry) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	val := strconv.FormatInt(at.UTC().Unix(), 10)
	if err := r.client.Set(ctx, revokedKeyPrefix+userID.String(), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisTokenRegistry) UserRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	val, err := r.client.Get(ctx, revokedKeyPrefix+userID.String()).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	} else if err != nil {
		return time.Time{}, fmt.Errorf("redis get failed: %w", err)
	}
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt revocation marker for user %s: %w", userID, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// PurgeExpired is a no-op; Redis evicts expired keys itself
func (r *RedisTokenRegistry) PurgeExpired(ctx context.Context) error {
	return nil
}

// Close releases the underlying connection pool
func (r *RedisTokenRegistry) Close() error {
	return r.client.Close()
}
