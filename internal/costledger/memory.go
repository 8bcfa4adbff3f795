package costledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memWindow struct {
	balance  int64
	reserved int64
	spent    int64
}

type memReservation struct {
	tenantID int64
	monthKey string
	dayKey   string
	amount   int64
}

// MemLedger is an in-process Ledger for tests and single-instance
// development, with the same reserve/reconcile semantics as PGLedger.
type MemLedger struct {
	mu             sync.Mutex
	windows        map[string]*memWindow
	reservations   map[string]memReservation
	monthlyDefault int64
	dailyDefault   int64
	now            func() time.Time
}

// NewMemLedger constructs the ledger with per-window default balances.
func NewMemLedger(monthlyDefault, dailyDefault int64) *MemLedger {
	return &MemLedger{
		windows:        make(map[string]*memWindow),
		reservations:   make(map[string]memReservation),
		monthlyDefault: monthlyDefault,
		dailyDefault:   dailyDefault,
		now:            time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (l *MemLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetBalance pins the balance of the current windows for a tenant.
func (l *MemLedger) SetBalance(tenantID int64, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for _, key := range []string{MonthKey(now), DayKey(now)} {
		l.window(tenantID, key, balance).balance = balance
	}
}

func windowKey(tenantID int64, periodKey string) string {
	return fmt.Sprintf("%d:%s", tenantID, periodKey)
}

func (l *MemLedger) window(tenantID int64, periodKey string, defaultBalance int64) *memWindow {
	k := windowKey(tenantID, periodKey)
	w, ok := l.windows[k]
	if !ok {
		w = &memWindow{balance: defaultBalance}
		l.windows[k] = w
	}
	return w
}

// Reserve implements Ledger.
func (l *MemLedger) Reserve(ctx context.Context, tenantID int64, estimate int64) (Grant, error) {
	if estimate < 0 {
		return Grant{}, errors.New("costledger: negative estimate")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	month := l.window(tenantID, MonthKey(now), l.monthlyDefault)
	day := l.window(tenantID, DayKey(now), l.dailyDefault)

	monthRemaining := month.balance - month.spent - month.reserved
	dayRemaining := day.balance - day.spent - day.reserved
	remaining := monthRemaining
	if dayRemaining < remaining {
		remaining = dayRemaining
	}
	if remaining < estimate {
		if remaining < 0 {
			remaining = 0
		}
		return Grant{}, &BudgetError{Remaining: remaining}
	}

	month.reserved += estimate
	day.reserved += estimate

	id := uuid.NewString()
	l.reservations[id] = memReservation{
		tenantID: tenantID,
		monthKey: MonthKey(now),
		dayKey:   DayKey(now),
		amount:   estimate,
	}
	return Grant{ReservationID: id, Remaining: remaining - estimate}, nil
}

// Reconcile implements Ledger.
func (l *MemLedger) Reconcile(ctx context.Context, reservationID string, actual int64) error {
	if actual < 0 {
		actual = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return nil
	}
	for _, key := range []string{res.monthKey, res.dayKey} {
		w := l.windows[windowKey(res.tenantID, key)]
		if w == nil {
			continue
		}
		w.reserved -= res.amount
		if w.reserved < 0 {
			w.reserved = 0
		}
		w.spent += actual
	}
	delete(l.reservations, reservationID)
	return nil
}

// Snapshot reports the current monthly window, for tests and diagnostics.
func (l *MemLedger) Snapshot(tenantID int64) (balance, reserved, spent int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[windowKey(tenantID, MonthKey(l.now()))]
	if w == nil {
		return 0, 0, 0
	}
	return w.balance, w.reserved, w.spent
}
