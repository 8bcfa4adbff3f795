package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyPurge drops expired idempotency records.
	TaskIdempotencyPurge = "maintenance:idempotency_purge"
	// TaskAuditRetention trims audit events past the retention horizon.
	TaskAuditRetention = "maintenance:audit_retention"
)

// IdempotencyPurgePayload bounds the purge pass.
type IdempotencyPurgePayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewIdempotencyPurgeTask constructs an Asynq task.
func NewIdempotencyPurgeTask(olderThanHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyPurgePayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, data), nil
}

// AuditRetentionPayload bounds the retention pass.
type AuditRetentionPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewAuditRetentionTask constructs an Asynq task.
func NewAuditRetentionTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditRetentionPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
