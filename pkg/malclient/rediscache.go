package malclient

import (
	"context"
	"strings"
	"time"
)

// redisClient is the subset of pkg/redis.Client this package depends on,
// kept narrow so tests can stub it without pulling in a real connection.
type redisClient interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// RedisCache adapts pkg/redis.Client to the Cache interface. The underlying
// client reports a miss as an error string rather than a sentinel value, so
// Get has to pattern-match it into Cache's (false, nil) miss shape instead
// of propagating it as a real failure.
type RedisCache struct {
	client redisClient
}

// NewRedisCache wraps an existing redis client for use as a Client's Cache.
func NewRedisCache(client redisClient) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	err := r.client.Get(ctx, key, out)
	if err == nil {
		return true, nil
	}
	if isMiss(err) {
		return false, nil
	}
	return false, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl)
}

func isMiss(err error) bool {
	return strings.Contains(err.Error(), "key not found")
}
