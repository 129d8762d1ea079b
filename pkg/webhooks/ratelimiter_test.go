package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "ep-1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}

	allowed, _ := rl.Allow(ctx, "ep-1")
	if allowed {
		t.Error("Expected request over limit to be denied")
	}
}

func TestRateLimiter_ZeroLimitClampsToOne(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Error("Expected the first request to be allowed")
	}
	if allowed, _ := rl.Allow(ctx, "ep-1"); allowed {
		t.Error("Expected the clamped budget to be exhausted after one request")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	rl.Allow(ctx, "ep-1")
	if allowed, _ := rl.Allow(ctx, "ep-1"); allowed {
		t.Error("Expected ep-1 to be exhausted")
	}
	if allowed, _ := rl.Allow(ctx, "ep-2"); !allowed {
		t.Error("Expected ep-2 to have its own budget")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	rl.Allow(ctx, "ep-1")
	rl.Reset("ep-1")
	if allowed, _ := rl.Allow(ctx, "ep-1"); !allowed {
		t.Error("Expected a fresh budget after reset")
	}
}

func newMiniredisLimiter(t *testing.T, limit int, window time.Duration) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRateLimiter(client, limit, window), mr
}

func TestRedisRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl, _ := newMiniredisLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "ep-1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}

	allowed, err := rl.Allow(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Error("Expected request over limit to be denied")
	}
}

func TestRedisRateLimiter_WindowExpires(t *testing.T) {
	rl, mr := newMiniredisLimiter(t, 1, time.Minute)
	ctx := context.Background()

	rl.Allow(ctx, "ep-1")
	if allowed, _ := rl.Allow(ctx, "ep-1"); allowed {
		t.Fatal("Expected the window to be exhausted")
	}

	mr.FastForward(2 * time.Minute)

	if allowed, _ := rl.Allow(ctx, "ep-1"); !allowed {
		t.Error("Expected a fresh window after expiry")
	}
}

func TestRedisRateLimiter_Remaining(t *testing.T) {
	rl, _ := newMiniredisLimiter(t, 5, time.Minute)
	ctx := context.Background()

	remaining, err := rl.Remaining(ctx, "ep-1")
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	if remaining != 5 {
		t.Errorf("Expected 5 remaining on an untouched key, got %d", remaining)
	}

	rl.Allow(ctx, "ep-1")
	rl.Allow(ctx, "ep-1")
	remaining, _ = rl.Remaining(ctx, "ep-1")
	if remaining != 3 {
		t.Errorf("Expected 3 remaining, got %d", remaining)
	}
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rl := NewRedisRateLimiter(client, 1, time.Minute)

	mr.Close()

	allowed, err := rl.Allow(context.Background(), "ep-1")
	if err == nil {
		t.Error("Expected an error when Redis is unreachable")
	}
	if !allowed {
		t.Error("Expected the limiter to fail open when Redis is unreachable")
	}
}
