package gateway

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisRateLimiter is the fixed-window limiter shared across gateway
// replicas. The whole window update runs as one pipelined transaction so a
// decision costs a single round trip, and ExpireNX pins the window start
// to the first request even when replicas race on a fresh key.
type redisRateLimiter struct {
	client   *redis.Client
	logger   *slog.Logger
	prefix   string
	timeout  time.Duration
	failOpen atomic.Int64
}

// NewRedisRateLimiter constructs a Redis backed rate limiter.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "gangway:ratelimit:",
		timeout: 250 * time.Millisecond,
	}, nil
}

// Allow counts the request against key's current window. Redis outages
// fail open: forwarding traffic matters more than precise throttling, and
// the in-memory limiter still bounds single-replica abuse.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logFailOpen(err)
		return rateDecision{allowed: true}
	}

	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	counter := int(incr.Val())
	return rateDecision{
		allowed:   counter <= limit,
		count:     counter,
		windowEnd: time.Now().Add(remaining),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) logFailOpen(err error) {
	total := rl.failOpen.Add(1)
	if rl.logger == nil {
		return
	}
	rl.logger.Error("rate limit check failed open", "error", err, "fail_open_total", total)
}
