package webhooks

import (
	"context"
	"sync"
	"time"
)

// Limiter bounds outbound request rate per endpoint
type Limiter interface {
	// Allow reports whether one request for the key may proceed now.
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter implements per-endpoint token bucket rate limiting in process
// memory. For multi-instance deployments use RedisRateLimiter instead.
type RateLimiter struct {
	buckets      map[string]*tokenBucket
	mutex        sync.Mutex
	maxTokens    int
	refillPeriod time.Duration
}

type tokenBucket struct {
	tokens       int
	maxTokens    int
	refillPeriod time.Duration
	lastRefill   time.Time
	mutex        sync.Mutex
}

// NewRateLimiter creates a limiter allowing maxRequests per period per key.
// A non-positive maxRequests is clamped to 1 rather than dividing by zero.
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &RateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: period / time.Duration(maxRequests),
	}
}

// Allow takes one token for the key if available
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rl.mutex.Lock()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{
			tokens:       rl.maxTokens,
			maxTokens:    rl.maxTokens,
			refillPeriod: rl.refillPeriod,
			lastRefill:   time.Now(),
		}
		rl.buckets[key] = bucket
	}
	rl.mutex.Unlock()

	return bucket.take(), nil
}

// Remaining returns the current token count for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mutex.Lock()
	bucket, exists := rl.buckets[key]
	rl.mutex.Unlock()

	if !exists {
		return rl.maxTokens
	}

	bucket.mutex.Lock()
	defer bucket.mutex.Unlock()
	bucket.refill()
	return bucket.tokens
}

// Reset clears the bucket for a key
func (rl *RateLimiter) Reset(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.buckets, key)
}

func (tb *tokenBucket) take() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// refill adds one token per elapsed refill period. Caller holds tb.mutex.
func (tb *tokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed < tb.refillPeriod {
		return
	}
	periods := int(elapsed / tb.refillPeriod)
	tb.tokens += periods
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
}
