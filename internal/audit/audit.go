// Package audit records admission decisions as append-only events.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Decision labels for admission events.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Event represents a record stored in audit_logs. Write-only from the
// pipeline's perspective.
type Event struct {
	OrgID    int64
	ActorID  string
	Action   string
	Route    string
	Decision string
	Reason   string
	Meta     map[string]any
	At       time.Time
}

// Recorder accepts structured audit events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// PGRecorder writes events into audit_logs.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewPGRecorder returns a new PGRecorder.
func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

// Record persists the event.
func (r *PGRecorder) Record(ctx context.Context, event Event) error {
	if r == nil {
		return errors.New("audit recorder not initialised")
	}
	if event.Action == "" || event.Route == "" {
		return errors.New("audit event requires action/route")
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (org_id, actor_id, action, route, decision, reason, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.OrgID, event.ActorID, event.Action, event.Route, event.Decision, event.Reason, metaJSON, at)
	return err
}
