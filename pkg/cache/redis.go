package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter is an Adapter backed by a Redis instance. State written
// through it survives process restarts and is shared by every process
// pointed at the same Redis.
type RedisAdapter struct {
	client *redis.Client
}

// NewRedisAdapter creates a Redis-backed adapter.
func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisAdapter{client: client}
}

// Get returns the value stored under key, or ErrNotFound.
func (a *RedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := a.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores value under key with the given TTL.
func (a *RedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := a.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Del removes key.
func (a *RedisAdapter) Del(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
