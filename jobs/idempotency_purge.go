package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/workstream-hq/workstream/internal/idempotency"
)

// IdempotencyPurgeJob removes expired idempotency records on a schedule so
// the table does not grow without bound.
type IdempotencyPurgeJob struct {
	store  idempotency.Store
	logger *slog.Logger
}

// NewIdempotencyPurgeJob constructs the job.
func NewIdempotencyPurgeJob(store idempotency.Store, logger *slog.Logger) *IdempotencyPurgeJob {
	return &IdempotencyPurgeJob{store: store, logger: logger}
}

// Handle processes TaskIdempotencyPurge tasks.
func (j *IdempotencyPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	olderThan := time.Duration(payload.OlderThanHours) * time.Hour
	if olderThan <= 0 {
		olderThan = idempotency.DefaultTTL
	}
	removed, err := j.store.Cleanup(ctx, olderThan)
	if err != nil {
		j.logger.Error("idempotency purge", slog.Any("error", err))
		return err
	}
	j.logger.Info("idempotency purge complete", slog.Int64("removed", removed))
	return nil
}
