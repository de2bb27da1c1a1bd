package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "prdgen:"

// Fixed hourly window; the counter key expires with the window.
var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

type RateLimiter struct {
	redis *redis.Client
	limit int64
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// RetryAfter is how long the caller should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// NewRateLimiter limits each caller to limit generations per hour. A
// non-positive limit disables limiting.
func NewRateLimiter(rdb *redis.Client, limit int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: limit}
}

// Allow counts one request for callerID within scope (for example "http"
// or "telegram").
func (r *RateLimiter) Allow(ctx context.Context, scope, callerID string, now time.Time) (Decision, error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if r == nil || r.limit <= 0 {
		return Decision{Allowed: true, ResetAt: windowEnd}, nil
	}

	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	key := fmt.Sprintf("%sratelimit:%s:%s:%s", keyPrefix, scope, callerID, windowStart.Format("2006010215"))
	used, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	return Decision{Allowed: used <= r.limit, Used: used, Limit: r.limit, ResetAt: windowEnd}, nil
}

type UpdateDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewUpdateDeduplicator(rdb *redis.Client, ttl time.Duration) *UpdateDeduplicator {
	return &UpdateDeduplicator{redis: rdb, ttl: ttl}
}

// MarkFirst reports whether updateID is seen for the first time.
func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("%supdate:%d", keyPrefix, updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
