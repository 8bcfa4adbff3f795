package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workstream-hq/workstream/internal/ratelimit"
	_ "github.com/workstream-hq/workstream/testing"
)

func newLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return ratelimit.NewLimiter(client), mr
}

func TestAllowWithinCap(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()
	preset := ratelimit.Preset{Name: "test", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "user:1", "leads.create", preset)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, int64(3-i-1), res.Remaining)
	}

	res, err := limiter.Allow(ctx, "user:1", "leads.create", preset)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestIdentitiesCountedSeparately(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()
	preset := ratelimit.Preset{Name: "test", Limit: 1, Window: time.Minute}

	res, err := limiter.Allow(ctx, "user:1", "leads.create", preset)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	blocked, err := limiter.Allow(ctx, "user:1", "leads.create", preset)
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.Allow(ctx, "user:2", "leads.create", preset)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "other identities keep their own window")

	route, err := limiter.Allow(ctx, "user:1", "leads.update", preset)
	require.NoError(t, err)
	assert.True(t, route.Allowed, "other routes keep their own window")
}

func TestWindowResets(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()
	preset := ratelimit.Preset{Name: "test", Limit: 1, Window: time.Minute}

	base := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	current := base
	limiter.SetClock(func() time.Time { return current })

	res, err := limiter.Allow(ctx, "user:1", "leads.create", preset)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	blocked, err := limiter.Allow(ctx, "user:1", "leads.create", preset)
	require.NoError(t, err)
	require.False(t, blocked.Allowed)
	assert.LessOrEqual(t, blocked.RetryAfter, time.Minute)

	// Advance past the window boundary; the counter key rolls over.
	current = base.Add(time.Minute)
	mr.FastForward(time.Minute)

	fresh, err := limiter.Allow(ctx, "user:1", "leads.create", preset)
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func TestPresetCaps(t *testing.T) {
	assert.Less(t, ratelimit.PresetAIHeavy.Limit, ratelimit.PresetBulkImport.Limit)
	assert.Less(t, ratelimit.PresetBulkImport.Limit, ratelimit.PresetDefault.Limit)
}
