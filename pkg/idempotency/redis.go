package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore claims keys with SET NX and an expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	lease  time.Duration
}

// NewRedisStore creates a store namespacing keys with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, opts ...Option) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, lease: newSettings(ttl, opts).lease}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().Unix(), s.lease).Result()
	if err != nil {
		return false, fmt.Errorf("claim %q: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.client.Set(ctx, s.prefix+key, time.Now().Unix(), s.ttl).Err(); err != nil {
		return fmt.Errorf("complete %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	return nil
}
