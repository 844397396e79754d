package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/limitdesk/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed bool
	// Count is the number of requests in the window, including this one
	// when allowed.
	Count int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when allowed.
	RetryAfter time.Duration
}

// RateLimiter is a sliding-window limiter shared by every API replica.
// Windows are kept at millisecond resolution in a sorted set per key.
type RateLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), now: time.Now}
}

// Allow implements domain.RateLimiter.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	d, err := rl.Check(ctx, key, limit, window)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Check counts one request for key against limit per window. Rejected
// requests are not counted.
func (rl *RateLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{}, fmt.Errorf("redis: rate limit %s: limit must be positive", key)
	}
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	now := rl.now().UnixMilli()

	res, err := slidingWindow.Run(ctx, rl.rdb,
		[]string{"limitdesk:rl:" + key, "limitdesk:rl:" + key + ":seq"},
		now, windowMs, limit,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis: rate limit %s: unexpected reply of %d values", key, len(res))
	}

	d := Decision{Allowed: res[0] == 1, Count: int(res[1])}
	if !d.Allowed {
		if wait := res[2] + windowMs - now; wait > 0 {
			d.RetryAfter = time.Duration(wait) * time.Millisecond
		}
	}
	return d, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
