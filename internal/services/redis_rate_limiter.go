package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisRateLimiter implements RateLimiter.
var _ RateLimiter = (*RedisRateLimiter)(nil)

// fixedWindowScript rejects without counting once the key holds max, otherwise
// increments and starts the window expiry on the first hit. Running it as one script
// keeps the read and the write of a key in a single atomic step across instances.
//
// Returns {allowed, count, pttl}.
var fixedWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[2]) then
	return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// RedisRateLimiter is a fixed window limiter shared by every relayer instance
// pointing at the same Redis
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
	max       int
	window    time.Duration
}

// NewRedisRateLimiter creates a limiter accepting max requests per window per key
func NewRedisRateLimiter(client *redis.Client, keyPrefix string, max int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		max:       max,
		window:    window,
	}
}

// Allow counts a request for key
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (RateLimitDecision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.keyPrefix + key}, l.window.Milliseconds(), l.max).Int64Slice()
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(res) != 3 {
		return RateLimitDecision{}, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	decision := RateLimitDecision{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
	}
	if !decision.Allowed {
		ttl := time.Duration(res[2]) * time.Millisecond
		if ttl < 0 {
			ttl = l.window
		}
		decision.RetryAfter = ttl
	}
	return decision, nil
}
