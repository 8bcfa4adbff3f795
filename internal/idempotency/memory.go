package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memRecord struct {
	fingerprint string
	state       string
	statusCode  int
	body        []byte
	createdAt   time.Time
	expiresAt   time.Time
}

// MemStore is an in-process Store for tests and single-instance development.
// It implements the same state machine as PGStore under one mutex, which
// stands in for the storage-level atomicity a shared deployment needs.
type MemStore struct {
	mu         sync.Mutex
	records    map[string]*memRecord
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewMemStore constructs a MemStore. Zero durations fall back to defaults.
func NewMemStore(ttl, staleAfter time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if staleAfter <= 0 {
		staleAfter = DefaultPendingStale
	}
	return &MemStore{
		records:    make(map[string]*memRecord),
		ttl:        ttl,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func memKey(tenantID int64, key string) string {
	return fmt.Sprintf("%d:%s", tenantID, key)
}

// Begin claims the key or classifies the existing record.
func (s *MemStore) Begin(ctx context.Context, tenantID int64, key, fingerprint string) (Outcome, error) {
	if key == "" {
		return Outcome{}, fmt.Errorf("idempotency: key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := memKey(tenantID, key)
	rec, ok := s.records[k]
	if !ok || !rec.expiresAt.After(now) {
		s.records[k] = &memRecord{
			fingerprint: fingerprint,
			state:       StatePending,
			createdAt:   now,
			expiresAt:   now.Add(s.ttl),
		}
		return Outcome{Decision: Proceed}, nil
	}

	if rec.fingerprint != fingerprint {
		return Outcome{Decision: Conflict}, nil
	}

	switch rec.state {
	case StateCompleted:
		return Outcome{Decision: Replay, StatusCode: rec.statusCode, Body: rec.body}, nil
	case StateFailed:
		rec.state = StatePending
		rec.createdAt = now
		rec.expiresAt = now.Add(s.ttl)
		return Outcome{Decision: Proceed}, nil
	default:
		if rec.createdAt.Add(s.staleAfter).After(now) {
			return Outcome{Decision: InFlight}, nil
		}
		rec.createdAt = now
		rec.expiresAt = now.Add(s.ttl)
		return Outcome{Decision: Proceed}, nil
	}
}

// Commit records the successful response for replays.
func (s *MemStore) Commit(ctx context.Context, tenantID int64, key string, statusCode int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memKey(tenantID, key)]
	if !ok || rec.state != StatePending {
		return nil
	}
	rec.state = StateCompleted
	rec.statusCode = statusCode
	rec.body = append([]byte(nil), body...)
	return nil
}

// Fail marks the record FAILED so a retry may re-execute.
func (s *MemStore) Fail(ctx context.Context, tenantID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memKey(tenantID, key)]
	if !ok || rec.state != StatePending {
		return nil
	}
	rec.state = StateFailed
	return nil
}

// Cleanup drops expired records.
func (s *MemStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var removed int64
	for k, rec := range s.records {
		if rec.expiresAt.Before(cutoff) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}
