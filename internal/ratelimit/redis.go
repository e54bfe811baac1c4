package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window counter backed by Redis INCR+EXPIRE,
// trading the in-memory Window's precision for durability across restarts
// — useful for the demo endpoint's per-IP limiting (§4.G) and registration
// flood protection in a multi-instance deployment, where process-local
// memory would let each instance grant its own quota.
type RedisWindow struct {
	client   *redis.Client
	prefix   string
	max      int64
	interval time.Duration
}

func NewRedisWindow(client *redis.Client, prefix string, max int64, interval time.Duration) *RedisWindow {
	return &RedisWindow{client: client, prefix: prefix, max: max, interval: interval}
}

// Allow increments the counter for identifier and reports whether it is
// still within the window's quota. The key's TTL is set on first increment
// only, so the window is a fixed (not sliding) window per interval.
func (w *RedisWindow) Allow(ctx context.Context, identifier string) (bool, error) {
	key := w.prefix + ":" + identifier
	count, err := w.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := w.client.Expire(ctx, key, w.interval).Err(); err != nil {
			return false, err
		}
	}
	return count <= w.max, nil
}

// RedisRegistrationLimiter adapts a pair of RedisWindows (global and
// per-IP) to identity.RegistrationLimiter, for multi-instance deployments
// where the in-memory Window's process-local state would let each
// instance grant its own registration quota (§4.A, DESIGN.md Open
// Question decision #3). A Redis error fails open rather than blocking
// registration on a flaky cache.
type RedisRegistrationLimiter struct {
	global *RedisWindow
	perIP  *RedisWindow
}

func NewRedisRegistrationLimiter(client *redis.Client, globalMax, perIPMax int64, interval time.Duration) *RedisRegistrationLimiter {
	return &RedisRegistrationLimiter{
		global: NewRedisWindow(client, "ratelimit:register:global", globalMax, interval),
		perIP:  NewRedisWindow(client, "ratelimit:register:ip", perIPMax, interval),
	}
}

func (r *RedisRegistrationLimiter) AllowGlobal() bool {
	ok, err := r.global.Allow(context.Background(), Global)
	if err != nil {
		return true
	}
	return ok
}

func (r *RedisRegistrationLimiter) AllowIP(ip string) bool {
	if ip == "" {
		return true
	}
	ok, err := r.perIP.Allow(context.Background(), ip)
	if err != nil {
		return true
	}
	return ok
}
