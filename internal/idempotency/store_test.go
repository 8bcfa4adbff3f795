package idempotency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workstream-hq/workstream/internal/idempotency"
	_ "github.com/workstream-hq/workstream/testing"
)

func TestBeginCommitReplay(t *testing.T) {
	store := idempotency.NewMemStore(0, 0)
	ctx := context.Background()
	fp := idempotency.Fingerprint("POST", "/api/leads", []byte(`{"name":"acme"}`))

	out, err := store.Begin(ctx, 1, "key-a", fp)
	require.NoError(t, err)
	assert.Equal(t, idempotency.Proceed, out.Decision)

	require.NoError(t, store.Commit(ctx, 1, "key-a", 201, []byte(`{"id":42}`)))

	replay, err := store.Begin(ctx, 1, "key-a", fp)
	require.NoError(t, err)
	assert.Equal(t, idempotency.Replay, replay.Decision)
	assert.Equal(t, 201, replay.StatusCode)
	assert.JSONEq(t, `{"id":42}`, string(replay.Body))
}

func TestBeginConflictOnDifferentFingerprint(t *testing.T) {
	store := idempotency.NewMemStore(0, 0)
	ctx := context.Background()

	out, err := store.Begin(ctx, 1, "key-b", "fp-one")
	require.NoError(t, err)
	require.Equal(t, idempotency.Proceed, out.Decision)
	require.NoError(t, store.Commit(ctx, 1, "key-b", 200, []byte(`{}`)))

	conflict, err := store.Begin(ctx, 1, "key-b", "fp-two")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Conflict, conflict.Decision)

	// The original record must survive the conflicting attempt.
	replay, err := store.Begin(ctx, 1, "key-b", "fp-one")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Replay, replay.Decision)
}

func TestBeginInFlight(t *testing.T) {
	store := idempotency.NewMemStore(0, 0)
	ctx := context.Background()

	out, err := store.Begin(ctx, 1, "key-c", "fp")
	require.NoError(t, err)
	require.Equal(t, idempotency.Proceed, out.Decision)

	dup, err := store.Begin(ctx, 1, "key-c", "fp")
	require.NoError(t, err)
	assert.Equal(t, idempotency.InFlight, dup.Decision)
}

func TestBeginConcurrentSingleWinner(t *testing.T) {
	store := idempotency.NewMemStore(0, 0)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	decisions := make([]idempotency.Decision, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := store.Begin(ctx, 5, "key-race", "fp")
			assert.NoError(t, err)
			decisions[i] = out.Decision
		}(i)
	}
	wg.Wait()

	proceeds := 0
	for _, d := range decisions {
		switch d {
		case idempotency.Proceed:
			proceeds++
		case idempotency.InFlight:
		default:
			t.Fatalf("unexpected decision %v", d)
		}
	}
	assert.Equal(t, 1, proceeds, "exactly one worker may execute")
}

func TestFailedRecordAllowsRetry(t *testing.T) {
	store := idempotency.NewMemStore(0, 0)
	ctx := context.Background()

	out, err := store.Begin(ctx, 1, "key-d", "fp")
	require.NoError(t, err)
	require.Equal(t, idempotency.Proceed, out.Decision)
	require.NoError(t, store.Fail(ctx, 1, "key-d"))

	retry, err := store.Begin(ctx, 1, "key-d", "fp")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Proceed, retry.Decision)

	// A retry with a different payload is still a conflict.
	conflict, err := store.Begin(ctx, 1, "key-d", "fp-other")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Conflict, conflict.Decision)
}

func TestExpiredRecordTreatedAsNew(t *testing.T) {
	store := idempotency.NewMemStore(time.Hour, 0)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	out, err := store.Begin(ctx, 1, "key-e", "fp-old")
	require.NoError(t, err)
	require.Equal(t, idempotency.Proceed, out.Decision)
	require.NoError(t, store.Commit(ctx, 1, "key-e", 200, []byte(`{}`)))

	current = base.Add(2 * time.Hour)
	fresh, err := store.Begin(ctx, 1, "key-e", "fp-new")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Proceed, fresh.Decision, "expired key accepts a new payload")
}

func TestStalePendingTakeover(t *testing.T) {
	store := idempotency.NewMemStore(24*time.Hour, 2*time.Minute)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	out, err := store.Begin(ctx, 1, "key-f", "fp")
	require.NoError(t, err)
	require.Equal(t, idempotency.Proceed, out.Decision)

	// Within the staleness horizon a duplicate waits.
	current = base.Add(time.Minute)
	dup, err := store.Begin(ctx, 1, "key-f", "fp")
	require.NoError(t, err)
	assert.Equal(t, idempotency.InFlight, dup.Decision)

	// Past the horizon the stuck PENDING record is reclaimed.
	current = base.Add(5 * time.Minute)
	reclaimed, err := store.Begin(ctx, 1, "key-f", "fp")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Proceed, reclaimed.Decision)
}

func TestTenantsAreIsolated(t *testing.T) {
	store := idempotency.NewMemStore(0, 0)
	ctx := context.Background()

	a, err := store.Begin(ctx, 1, "shared-key", "fp")
	require.NoError(t, err)
	b, err := store.Begin(ctx, 2, "shared-key", "fp")
	require.NoError(t, err)

	assert.Equal(t, idempotency.Proceed, a.Decision)
	assert.Equal(t, idempotency.Proceed, b.Decision)
}

func TestCleanup(t *testing.T) {
	store := idempotency.NewMemStore(time.Hour, 0)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	current := base
	store.SetClock(func() time.Time { return current })

	_, err := store.Begin(ctx, 1, "key-g", "fp")
	require.NoError(t, err)

	current = base.Add(48 * time.Hour)
	removed, err := store.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestFingerprintStable(t *testing.T) {
	a := idempotency.Fingerprint("POST", "/api/leads", []byte(`{"a":1}`))
	b := idempotency.Fingerprint("POST", "/api/leads", []byte(`{"a":1}`))
	c := idempotency.Fingerprint("POST", "/api/leads", []byte(`{"a":2}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
