package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRetentionJob deletes audit events older than the retention horizon.
type AuditRetentionJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditRetentionJob constructs the job.
func NewAuditRetentionJob(pool *pgxpool.Pool, logger *slog.Logger) *AuditRetentionJob {
	return &AuditRetentionJob{pool: pool, logger: logger}
}

// Handle processes TaskAuditRetention tasks.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-retention)
	tag, err := j.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("audit retention", slog.Any("error", err))
		return err
	}
	j.logger.Info("audit retention complete", slog.Int64("removed", tag.RowsAffected()))
	return nil
}
