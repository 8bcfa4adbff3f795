// Package idempotency guarantees at-most-once execution for mutating
// requests that carry a client-supplied idempotency key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record states. A record transitions PENDING→COMPLETED or PENDING→FAILED
// exactly once; FAILED records may be re-armed to PENDING by a retry.
const (
	StatePending   = "PENDING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Decision is the outcome of Begin.
type Decision int

const (
	// Proceed means the caller owns the key and must execute the handler.
	Proceed Decision = iota
	// Replay means an identical request already completed; serve the cache.
	Replay
	// InFlight means an identical request is currently executing elsewhere.
	InFlight
	// Conflict means the key was reused with a different request payload.
	Conflict
)

// Outcome carries the Begin decision plus the cached response on Replay.
type Outcome struct {
	Decision   Decision
	StatusCode int
	Body       []byte
}

// Defaults for record lifetime and the stuck-PENDING takeover horizon.
const (
	DefaultTTL          = 24 * time.Hour
	DefaultPendingStale = 2 * time.Minute
)

// Store is the durable (tenant, key) → record layer. Begin must be atomic at
// the storage level: two workers racing on a new key must not both Proceed.
type Store interface {
	Begin(ctx context.Context, tenantID int64, key, fingerprint string) (Outcome, error)
	Commit(ctx context.Context, tenantID int64, key string, statusCode int, body []byte) error
	Fail(ctx context.Context, tenantID int64, key string) error
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Fingerprint derives the request fingerprint bound to an idempotency key.
// Reusing a key with a different fingerprint is a Conflict.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{' '})
	h.Write([]byte(path))
	h.Write([]byte{' '})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
