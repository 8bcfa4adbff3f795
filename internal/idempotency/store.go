package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists idempotency records in Postgres. The (tenant_id, idem_key)
// primary key gives Begin its insert-or-discover atomicity; every takeover
// branch is a conditional UPDATE so racing workers cannot both win.
type PGStore struct {
	pool       *pgxpool.Pool
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewPGStore constructs the store. Zero durations fall back to defaults.
func NewPGStore(pool *pgxpool.Pool, ttl, staleAfter time.Duration) *PGStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if staleAfter <= 0 {
		staleAfter = DefaultPendingStale
	}
	return &PGStore{pool: pool, ttl: ttl, staleAfter: staleAfter, now: time.Now}
}

// Begin atomically claims the key or classifies the existing record. The
// insert and each takeover are single statements; a read-then-write here
// would let two identical concurrent requests both execute side effects.
func (s *PGStore) Begin(ctx context.Context, tenantID int64, key, fingerprint string) (Outcome, error) {
	if key == "" {
		return Outcome{}, errors.New("idempotency: key required")
	}
	now := s.now()

	for attempt := 0; attempt < 3; attempt++ {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO idempotency_records (tenant_id, idem_key, fingerprint, state, created_at, expires_at)
			VALUES ($1, $2, $3, 'PENDING', $4, $5)
			ON CONFLICT (tenant_id, idem_key) DO NOTHING`,
			tenantID, key, fingerprint, now, now.Add(s.ttl))
		if err != nil {
			return Outcome{}, err
		}
		if tag.RowsAffected() == 1 {
			return Outcome{Decision: Proceed}, nil
		}

		var (
			existingFP string
			state      string
			statusCode *int
			body       []byte
			createdAt  time.Time
			expiresAt  time.Time
		)
		err = s.pool.QueryRow(ctx, `
			SELECT fingerprint, state, status_code, response, created_at, expires_at
			FROM idempotency_records
			WHERE tenant_id = $1 AND idem_key = $2`,
			tenantID, key).Scan(&existingFP, &state, &statusCode, &body, &createdAt, &expiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // record vanished between insert and read, try again
		}
		if err != nil {
			return Outcome{}, err
		}

		if !expiresAt.After(now) {
			ok, err := s.takeover(ctx, tenantID, key, fingerprint, now, `expires_at <= $6`, now)
			if err != nil {
				return Outcome{}, err
			}
			if ok {
				return Outcome{Decision: Proceed}, nil
			}
			continue
		}

		if existingFP != fingerprint {
			return Outcome{Decision: Conflict}, nil
		}

		switch state {
		case StateCompleted:
			code := 0
			if statusCode != nil {
				code = *statusCode
			}
			return Outcome{Decision: Replay, StatusCode: code, Body: body}, nil
		case StateFailed:
			ok, err := s.takeover(ctx, tenantID, key, fingerprint, now, `state = $6`, StateFailed)
			if err != nil {
				return Outcome{}, err
			}
			if ok {
				return Outcome{Decision: Proceed}, nil
			}
			continue
		default: // PENDING
			if createdAt.Add(s.staleAfter).After(now) {
				return Outcome{Decision: InFlight}, nil
			}
			// A worker crashed mid-execution; reclaim the stuck record.
			ok, err := s.takeover(ctx, tenantID, key, fingerprint, now, `state = 'PENDING' AND created_at <= $6`, now.Add(-s.staleAfter))
			if err != nil {
				return Outcome{}, err
			}
			if ok {
				return Outcome{Decision: Proceed}, nil
			}
			continue
		}
	}
	// Lost every race; safest classification for the caller is in-flight.
	return Outcome{Decision: InFlight}, nil
}

// takeover re-arms an existing record as PENDING for the caller, guarded by
// an extra predicate carrying $6 so only one racing worker can win.
func (s *PGStore) takeover(ctx context.Context, tenantID int64, key, fingerprint string, now time.Time, guard string, guardArg any) (bool, error) {
	query := `
		UPDATE idempotency_records
		SET fingerprint = $3, state = 'PENDING', status_code = NULL, response = NULL,
		    created_at = $4, expires_at = $5
		WHERE tenant_id = $1 AND idem_key = $2 AND ` + guard
	tag, err := s.pool.Exec(ctx, query, tenantID, key, fingerprint, now, now.Add(s.ttl), guardArg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Commit records the successful response for replays.
func (s *PGStore) Commit(ctx context.Context, tenantID int64, key string, statusCode int, body []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_records
		SET state = 'COMPLETED', status_code = $3, response = $4
		WHERE tenant_id = $1 AND idem_key = $2 AND state = 'PENDING'`,
		tenantID, key, statusCode, body)
	return err
}

// Fail marks the record FAILED so a retry with the same fingerprint may
// re-execute; the record stays put to keep conflict detection intact.
func (s *PGStore) Fail(ctx context.Context, tenantID int64, key string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_records
		SET state = 'FAILED'
		WHERE tenant_id = $1 AND idem_key = $2 AND state = 'PENDING'`,
		tenantID, key)
	return err
}

// Cleanup removes records past their expiry plus the supplied grace window.
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
