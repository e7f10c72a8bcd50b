package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCleanupOrphanedUploads deletes listing images no row references.
	TaskCleanupOrphanedUploads = "listings:cleanup_orphans"
	// TaskIdempotencyCleanup prunes old submission keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// CleanupOrphansPayload lists the object keys to delete.
type CleanupOrphansPayload struct {
	Keys []string `json:"keys"`
}

// NewCleanupOrphansTask constructs an Asynq task for orphan cleanup.
func NewCleanupOrphansTask(keys []string) (*asynq.Task, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("jobs: cleanup task needs at least one key")
	}
	body, err := json.Marshal(CleanupOrphansPayload{Keys: keys})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleanupOrphanedUploads, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// IdempotencyCleanupPayload sets the retention window of submission keys.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs the periodic key pruning task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
