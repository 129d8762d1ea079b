package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter implements Limiter on Redis so per-endpoint limits hold
// across multiple relay instances. A fixed window counter is enough here:
// the limiter only paces outbound deliveries, it is not a billing meter.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisRateLimiter creates a limiter allowing limit requests per window
// per key
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "relay:delivery-rate",
	}
}

// Allow increments the key's window counter and reports whether it is under
// the limit. On Redis errors the limiter fails open so delivery keeps working
// without Redis; the caller decides whether to log the error.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= rl.limit, nil
}

// Remaining returns how many requests are left in the current window
func (rl *RedisRateLimiter) Remaining(ctx context.Context, key string) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.client.Get(ctx, redisKey).Int64()
	if err == redis.Nil {
		return rl.limit, nil
	}
	if err != nil {
		return 0, err
	}

	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the counter for a key
func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}
