package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// KeyPrefix namespaces limiter keys in a shared redis.
const KeyPrefix = "ratelimit:"

// takeScript increments the window and arms its expiry on the first hit. PTTL
// is returned so callers can compute when the window resets.
var takeScript = redis.NewScript(`
local current = redis.call("INCRBY", KEYS[1], ARGV[1])
if current == tonumber(ARGV[1]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {current, ttl}
`)

type RedisLimiter struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (l *RedisLimiter) Take(ctx context.Context, identifier string, cost, limit int64, window time.Duration) (Result, error) {
	raw, err := takeScript.Run(ctx, l.client, []string{KeyPrefix + identifier}, cost, window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis take: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, fmt.Errorf("redis take: unexpected reply %T", raw)
	}
	count, ok1 := vals[0].(int64)
	ttl, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("redis take: unexpected reply values %v", vals)
	}

	return newResult(count, limit, l.now().Add(time.Duration(ttl)*time.Millisecond)), nil
}
