package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// takeScript counts one request and opens the window on the first one, so
// the counter can never be left without an expiry
var takeScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// DistributedRateLimiter keeps a fixed-window counter per key in Redis so
// every server instance shares one budget
type DistributedRateLimiter struct {
	redis  *redis.Client
	prefix string

	mu     sync.RWMutex
	config RateLimitConfig
}

// NewDistributedRateLimiter creates a Redis-backed limiter; keys are stored under prefix
func NewDistributedRateLimiter(client *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultShareLinkRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{redis: client, prefix: prefix, config: *config}
}

func (rl *DistributedRateLimiter) redisKey(key string) string {
	return rl.prefix + ":" + key
}

// Take counts a request in key's current window. Redis errors allow the
// request and are returned so the caller can log them.
func (rl *DistributedRateLimiter) Take(ctx context.Context, key string) (bool, error) {
	config := rl.Config()
	n, err := takeScript.Run(ctx, rl.redis, []string{rl.redisKey(key)}, config.WindowDuration.Milliseconds()).Int64()
	if err != nil {
		return true, fmt.Errorf("rate limit counter: %w", err)
	}
	return n <= int64(config.Capacity()), nil
}

// Remaining is how many requests key may still make in this window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	limit := rl.Config().Capacity()
	used, err := rl.redis.Get(ctx, rl.redisKey(key)).Int()
	if errors.Is(err, redis.Nil) {
		return limit, nil
	}
	if err != nil {
		return 0, err
	}
	return max(limit-used, 0), nil
}

// TTL is the time until key's window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.redisKey(key)).Result()
}

// Reset starts a fresh window for key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.redisKey(key)).Err()
}

func (rl *DistributedRateLimiter) Config() RateLimitConfig {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.config
}

// SetConfig replaces the limits. Open windows keep their expiry.
func (rl *DistributedRateLimiter) SetConfig(config *RateLimitConfig) {
	if config == nil {
		return
	}
	rl.mu.Lock()
	rl.config = *config
	rl.mu.Unlock()
}
