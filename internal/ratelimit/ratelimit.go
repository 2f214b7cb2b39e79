// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter caps total send attempts across all workers and processes.
type Limiter interface {
	// Allow reports whether one attempt may proceed now. When denied,
	// wait is how long to back off before asking again.
	Allow(ctx context.Context) (allowed bool, wait time.Duration, err error)

	// Wait blocks until an attempt is admitted or ctx is done.
	Wait(ctx context.Context) error
}

// checkAndIncr atomically checks the window counter and only increments
// when under the limit. A plain GET -> check -> INCR sequence would race
// between workers.
const checkAndIncrScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// RedisLimiter is a windowed counter shared through redis, so the cap
// holds across every worker process, not just one pool.
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script

	keyPrefix string
	max       int
	window    time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	if max <= 0 {
		max = 80
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		redis:     client,
		script:    redis.NewScript(checkAndIncrScript),
		keyPrefix: "ratelimit:broadcast",
		max:       max,
		window:    window,
	}
}

// NewRedisLimiterFromURL connects to redis and verifies the connection.
func NewRedisLimiterFromURL(redisURL string, max int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisLimiter(client, max, window), nil
}

func (l *RedisLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := time.Now()
	bucket := now.UnixNano() / int64(l.window)
	key := fmt.Sprintf("%s:%d", l.keyPrefix, bucket)
	// TTL outlives the window so a slow clock never loses the counter
	// before the bucket rolls over.
	ttl := int((2 * l.window).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	result, err := l.script.Run(ctx, l.redis, []string{key}, l.max, ttl).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	windowEnd := time.Unix(0, (bucket+1)*int64(l.window))
	wait := windowEnd.Sub(now)
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	return false, wait, nil
}

func (l *RedisLimiter) Wait(ctx context.Context) error {
	for {
		allowed, wait, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close closes the redis connection.
func (l *RedisLimiter) Close() error {
	return l.redis.Close()
}
