package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend is the primary counter: INCR then, on first increment,
// EXPIRE at window, matching the "shared store counter (increment +
// set-expire)" contract of §4.8.
type redisBackend struct {
	client *redis.Client
}

func (b *redisBackend) incr(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	count, err := b.client.Incr(callCtx, redisKey(key)).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := b.client.Expire(callCtx, redisKey(key), window).Err(); err != nil {
			return Result{}, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}

	if int(count) > limit {
		ttl, err := b.client.TTL(callCtx, redisKey(key)).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}
	return Result{Allowed: true, Remaining: limit - int(count)}, nil
}

func redisKey(key string) string {
	return "x402gw:ratelimit:" + key
}
