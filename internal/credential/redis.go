package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists the token under <prefix>token. The key carries no
// TTL; expiry is the API server's concern.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend wraps client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, key: prefix + Key}
}

// Load implements Backend.
func (r *RedisBackend) Load(ctx context.Context) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Save implements Backend.
func (r *RedisBackend) Save(ctx context.Context, token string) error {
	if err := r.client.Set(ctx, r.key, token, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
