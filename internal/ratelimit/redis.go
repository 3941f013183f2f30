package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements Limiter backed by Redis, for deployments running
// more than one instance behind a load balancer. It uses a fixed window
// counter: cheap, and accurate enough for per-caller API limits.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter allowing limit requests
// per key per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

// Allow increments the counter for key in the current window and compares
// it against the limit.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowStart := time.Now().UnixNano() / int64(r.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart)

	pipe := r.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	// Expire slightly after the window ends so a clock skewed reader still
	// sees the counter, then let Redis reclaim it.
	pipe.Expire(ctx, redisKey, r.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit: redis incr: %w", err)
	}

	return count.Val() <= r.limit, nil
}

// Close is a no-op: the Redis client is owned by the caller.
func (r *RedisLimiter) Close() error { return nil }
