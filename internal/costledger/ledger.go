package costledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workstream-hq/workstream/internal/platform/db"
)

// Ledger is the admission interface the gateway consumes.
type Ledger interface {
	// Reserve atomically claims estimate credits for the tenant in the
	// current daily and monthly windows, or returns *BudgetError.
	Reserve(ctx context.Context, tenantID int64, estimate int64) (Grant, error)
	// Reconcile settles a reservation: actual moves to spent, the rest of
	// the reservation is released. actual=0 releases everything.
	Reconcile(ctx context.Context, reservationID string, actual int64) error
}

// PGLedger keeps balances in Postgres. The reserve step is a conditional
// UPDATE guarded by `balance - spent - reserved >= estimate`; a plain
// read-modify-write would let two racing workers overrun the budget.
type PGLedger struct {
	pool           *pgxpool.Pool
	monthlyDefault int64
	dailyDefault   int64
	now            func() time.Time
}

// NewPGLedger constructs the ledger. The defaults seed window rows the first
// time a tenant is admitted within a period; top-ups adjust rows externally.
func NewPGLedger(pool *pgxpool.Pool, monthlyDefault, dailyDefault int64) *PGLedger {
	return &PGLedger{
		pool:           pool,
		monthlyDefault: monthlyDefault,
		dailyDefault:   dailyDefault,
		now:            time.Now,
	}
}

// Reserve implements Ledger.
func (l *PGLedger) Reserve(ctx context.Context, tenantID int64, estimate int64) (Grant, error) {
	if estimate < 0 {
		return Grant{}, errors.New("costledger: negative estimate")
	}
	now := l.now()
	monthKey, dayKey := MonthKey(now), DayKey(now)
	reservationID := uuid.NewString()

	var remaining int64
	err := db.WithTx(ctx, l.pool, func(tx pgx.Tx) error {
		if err := l.ensureWindow(ctx, tx, tenantID, monthKey, l.monthlyDefault); err != nil {
			return err
		}
		if err := l.ensureWindow(ctx, tx, tenantID, dayKey, l.dailyDefault); err != nil {
			return err
		}

		monthRemaining, err := l.reserveWindow(ctx, tx, tenantID, monthKey, estimate)
		if err != nil {
			return err
		}
		dayRemaining, err := l.reserveWindow(ctx, tx, tenantID, dayKey, estimate)
		if err != nil {
			return err
		}

		remaining = monthRemaining
		if dayRemaining < remaining {
			remaining = dayRemaining
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO cost_reservations (id, tenant_id, month_key, day_key, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			reservationID, tenantID, monthKey, dayKey, estimate, now)
		return err
	})
	if err != nil {
		return Grant{}, err
	}
	return Grant{ReservationID: reservationID, Remaining: remaining}, nil
}

func (l *PGLedger) ensureWindow(ctx context.Context, tx pgx.Tx, tenantID int64, periodKey string, balance int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cost_ledgers (tenant_id, period_key, balance, reserved, spent)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (tenant_id, period_key) DO NOTHING`,
		tenantID, periodKey, balance)
	return err
}

// reserveWindow performs the guarded increment. On denial it reads the
// remaining budget and returns *BudgetError, which aborts the transaction so
// a partial monthly reservation never sticks when the daily window denies.
func (l *PGLedger) reserveWindow(ctx context.Context, tx pgx.Tx, tenantID int64, periodKey string, estimate int64) (int64, error) {
	var remaining int64
	err := tx.QueryRow(ctx, `
		UPDATE cost_ledgers
		SET reserved = reserved + $3
		WHERE tenant_id = $1 AND period_key = $2
		  AND balance - spent - reserved >= $3
		RETURNING balance - spent - reserved`,
		tenantID, periodKey, estimate).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	if err := tx.QueryRow(ctx, `
		SELECT GREATEST(balance - spent - reserved, 0)
		FROM cost_ledgers
		WHERE tenant_id = $1 AND period_key = $2`,
		tenantID, periodKey).Scan(&remaining); err != nil {
		return 0, err
	}
	return 0, &BudgetError{Remaining: remaining}
}

// Reconcile implements Ledger.
func (l *PGLedger) Reconcile(ctx context.Context, reservationID string, actual int64) error {
	if actual < 0 {
		actual = 0
	}
	return db.WithTx(ctx, l.pool, func(tx pgx.Tx) error {
		var (
			tenantID int64
			monthKey string
			dayKey   string
			amount   int64
		)
		err := tx.QueryRow(ctx, `
			SELECT tenant_id, month_key, day_key, amount
			FROM cost_reservations
			WHERE id = $1
			FOR UPDATE`,
			reservationID).Scan(&tenantID, &monthKey, &dayKey, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil // already settled
		}
		if err != nil {
			return err
		}

		for _, periodKey := range []string{monthKey, dayKey} {
			if _, err := tx.Exec(ctx, `
				UPDATE cost_ledgers
				SET reserved = GREATEST(reserved - $3, 0), spent = spent + $4
				WHERE tenant_id = $1 AND period_key = $2`,
				tenantID, periodKey, amount, actual); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `DELETE FROM cost_reservations WHERE id = $1`, reservationID)
		return err
	})
}
