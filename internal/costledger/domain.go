// Package costledger enforces per-tenant resource budgets with pre-execution
// reservation and post-execution reconciliation.
package costledger

import (
	"fmt"
	"time"
)

// Grant is a successful reservation. Remaining reflects the budget after the
// estimate was reserved, across both admission windows.
type Grant struct {
	ReservationID string
	Remaining     int64
}

// BudgetError is the structured denial: the handler must not run, and the
// caller learns how much budget is left so it can downgrade and retry.
type BudgetError struct {
	Remaining int64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exceeded, %d credits remaining", e.Remaining)
}

// MonthKey returns the monthly admission window key, e.g. "2026-08".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// DayKey returns the daily admission window key, e.g. "2026-08-30".
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
