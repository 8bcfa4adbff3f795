// Package ratelimit provides per-identity, per-route request limiting with
// named presets. Counters live in Redis so every worker shares the window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Preset names a window size and cap for a class of routes.
type Preset struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Route presets. AI routes get the tightest cap; bulk import sits between
// the AI cap and the general API preset.
var (
	PresetDefault    = Preset{Name: "api_default", Limit: 60, Window: time.Minute}
	PresetAIHeavy    = Preset{Name: "ai_heavy", Limit: 10, Window: time.Minute}
	PresetBulkImport = Preset{Name: "bulk_import", Limit: 30, Window: time.Minute}
)

// Result reports the limiter decision. RetryAfter is only meaningful when
// Allowed is false.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter counts requests in fixed windows. Exceeding the cap never mutates
// idempotency or cost state; it only produces a retry hint.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewLimiter constructs a Limiter on the shared Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow counts one request for (identity, route) under the preset and
// reports whether it fits in the current window.
func (l *Limiter) Allow(ctx context.Context, identity, route string, p Preset) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(p.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%s:%d", p.Name, identity, route, windowStart.Unix())

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, p.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: incr: %w", err)
	}

	n := count.Val()
	res := Result{Allowed: n <= p.Limit, Limit: p.Limit, Remaining: p.Limit - n}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = windowStart.Add(p.Window).Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res, nil
}
