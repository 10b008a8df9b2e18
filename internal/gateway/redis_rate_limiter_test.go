package gateway

import (
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterFailsOpenWhenUnreachable(t *testing.T) {
	rl := &redisRateLimiter{
		client:  redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
		logger:  testLogger(),
		prefix:  "gangway:ratelimit:",
		timeout: 50 * time.Millisecond,
	}
	defer rl.Close()

	decision := rl.Allow("client:acme", 1, time.Minute)
	if !decision.allowed {
		t.Fatal("unreachable redis must not block requests")
	}
	decision = rl.Allow("client:acme", 1, time.Minute)
	if !decision.allowed {
		t.Fatal("fail open should persist across calls")
	}
	if got := rl.failOpen.Load(); got != 2 {
		t.Errorf("fail_open_total = %d, want 2", got)
	}
}

func TestRedisRateLimiterConstructorRejectsDeadServer(t *testing.T) {
	if _, err := NewRedisRateLimiter("127.0.0.1:1", "", 0, testLogger()); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestRedisRateLimiterZeroLimitAlwaysAllows(t *testing.T) {
	rl := &redisRateLimiter{
		client:  redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
		logger:  testLogger(),
		prefix:  "gangway:ratelimit:",
		timeout: 50 * time.Millisecond,
	}
	defer rl.Close()

	if decision := rl.Allow("client:acme", 0, time.Minute); !decision.allowed {
		t.Fatal("limit 0 disables throttling for the route")
	}
	if got := rl.failOpen.Load(); got != 0 {
		t.Errorf("zero limit should not touch redis, fail_open_total = %d", got)
	}
}
