package costledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workstream-hq/workstream/internal/costledger"
	_ "github.com/workstream-hq/workstream/testing"
)

func TestReserveDeniedBeforeExecution(t *testing.T) {
	ledger := costledger.NewMemLedger(1500, 1500)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, 1, 2000)
	var budgetErr *costledger.BudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, int64(1500), budgetErr.Remaining)

	// Denial must not consume anything.
	_, reserved, spent := ledger.Snapshot(1)
	assert.Zero(t, reserved)
	assert.Zero(t, spent)
}

func TestReserveThenReconcile(t *testing.T) {
	ledger := costledger.NewMemLedger(3000, 3000)
	ctx := context.Background()

	grant, err := ledger.Reserve(ctx, 1, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), grant.Remaining)

	_, reserved, spent := ledger.Snapshot(1)
	assert.Equal(t, int64(2000), reserved)
	assert.Zero(t, spent)

	require.NoError(t, ledger.Reconcile(ctx, grant.ReservationID, 1800))

	_, reserved, spent = ledger.Snapshot(1)
	assert.Zero(t, reserved, "over-estimate must be refunded")
	assert.Equal(t, int64(1800), spent)
}

func TestReconcileZeroReleasesReservation(t *testing.T) {
	ledger := costledger.NewMemLedger(1000, 1000)
	ctx := context.Background()

	grant, err := ledger.Reserve(ctx, 1, 400)
	require.NoError(t, err)
	require.NoError(t, ledger.Reconcile(ctx, grant.ReservationID, 0))

	_, reserved, spent := ledger.Snapshot(1)
	assert.Zero(t, reserved)
	assert.Zero(t, spent)

	// Reconciling twice is a no-op.
	require.NoError(t, ledger.Reconcile(ctx, grant.ReservationID, 400))
	_, _, spent = ledger.Snapshot(1)
	assert.Zero(t, spent)
}

func TestConcurrentReserveNeverOverruns(t *testing.T) {
	ledger := costledger.NewMemLedger(1000, 1000)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, 1, 100); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			} else {
				var budgetErr *costledger.BudgetError
				assert.True(t, errors.As(err, &budgetErr))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted, "spent + reserved must never exceed balance")
	_, reserved, _ := ledger.Snapshot(1)
	assert.Equal(t, int64(1000), reserved)
}

func TestDailyWindowCapsBeforeMonthly(t *testing.T) {
	ledger := costledger.NewMemLedger(10000, 100)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, 1, 500)
	var budgetErr *costledger.BudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, int64(100), budgetErr.Remaining, "remaining reports the tighter window")
}

func TestPeriodRollover(t *testing.T) {
	ledger := costledger.NewMemLedger(100, 100)
	base := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	current := base
	ledger.SetClock(func() time.Time { return current })
	ctx := context.Background()

	grant, err := ledger.Reserve(ctx, 1, 100)
	require.NoError(t, err)
	require.NoError(t, ledger.Reconcile(ctx, grant.ReservationID, 100))

	_, err = ledger.Reserve(ctx, 1, 1)
	require.Error(t, err, "window exhausted")

	// New day and month: fresh windows, fresh budget.
	current = base.Add(2 * time.Hour)
	_, err = ledger.Reserve(ctx, 1, 100)
	assert.NoError(t, err)
}

func TestPeriodKeys(t *testing.T) {
	at := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "2026-08", costledger.MonthKey(at))
	assert.Equal(t, "2026-08-30", costledger.DayKey(at))
}

func TestEstimateScalesWithSize(t *testing.T) {
	est := costledger.EstimateLeadScoring // base 10, 2 per KB

	assert.Equal(t, int64(10), est.For(0))
	assert.Equal(t, int64(12), est.For(1))    // rounds a partial KB up
	assert.Equal(t, int64(12), est.For(1024)) // exactly one KB
	assert.Equal(t, int64(14), est.For(1025))

	flat := costledger.EstimateEmailSend
	assert.Equal(t, int64(1), flat.For(1<<20))
}
