// Package idempotency remembers which provider events were already processed.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store claims event ids so redelivered webhooks are skipped.
type Store interface {
	// Claim returns true when the caller is the first to see key.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed event can be processed again.
	Release(ctx context.Context, key string) error
}

// RedisClient is the subset of go-redis used by RedisStore.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client RedisClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// NoopStore lets every event through. Used when Redis is not configured;
// the reconciler is idempotent on its own.
type NoopStore struct{}

func (NoopStore) Claim(context.Context, string) (bool, error) { return true, nil }
func (NoopStore) Release(context.Context, string) error       { return nil }
