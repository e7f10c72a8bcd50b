package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vitrin/marketplace/internal/jobs"
	"github.com/vitrin/marketplace/internal/storage"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ObjectDeleter removes stored objects.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// OrphanCleanupJob deletes images uploaded by a submit whose insert failed.
type OrphanCleanupJob struct {
	Store   ObjectDeleter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOrphanCleanupJob wires dependencies for the cleanup handler.
func NewOrphanCleanupJob(store ObjectDeleter, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrphanCleanupJob {
	return &OrphanCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskCleanupOrphanedUploads. Every key is attempted; the
// task fails, and is retried, when any deletion failed.
func (j *OrphanCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("orphan cleanup: handler not configured")
	}
	var payload CleanupOrphansPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("orphan cleanup: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskCleanupOrphanedUploads)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	deleted := 0
	var errs []error
	for _, key := range payload.Keys {
		err := j.Store.Delete(ctx, key)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, storage.ErrInvalidKey):
			j.logger().Warn("skip invalid orphan key", slog.String("key", key))
		default:
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	j.metrics().AddDeleted("object", deleted)
	j.logger().Info("orphan cleanup finished", slog.Int("deleted", deleted), slog.Int("failed", len(errs)))

	resultErr = errors.Join(errs...)
	return resultErr
}

func (j *OrphanCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *OrphanCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
