package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/verifai/verifai/internal/logging"
	"github.com/verifai/verifai/internal/server/blob"
	"github.com/verifai/verifai/internal/server/models"
	"github.com/verifai/verifai/internal/server/repositories/repomanager"
)

// DirectDispatcher starts analysis with an in-process HTTP call on a
// detached goroutine, so Finalize returns as soon as the hand-off is
// accepted. Transient analyzer errors are retried with capped exponential
// backoff; exhaustion marks the job failed and releases its blob.
type DirectDispatcher struct {
	db          *sql.DB
	manager     repomanager.RepositoryManager
	blobs       blob.Store
	client      AnalysisClient
	logger      logging.Logger
	maxAttempts uint64
	baseDelay   time.Duration
}

// NewDirectDispatcher constructs a direct-mode dispatcher.
func NewDirectDispatcher(db *sql.DB, manager repomanager.RepositoryManager, blobs blob.Store,
	client AnalysisClient, logger logging.Logger, maxAttempts int) *DirectDispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DirectDispatcher{
		db:          db,
		manager:     manager,
		blobs:       blobs,
		client:      client,
		logger:      logger,
		maxAttempts: uint64(maxAttempts),
		baseDelay:   500 * time.Millisecond,
	}
}

// Dispatch hands the job off and returns immediately. The detached context
// survives the finalize request that triggered the dispatch.
func (d *DirectDispatcher) Dispatch(ctx context.Context, jobID, objectKey string) error {
	go d.run(context.WithoutCancel(ctx), jobID, objectKey)
	return nil
}

func (d *DirectDispatcher) run(ctx context.Context, jobID, objectKey string) {
	image, err := d.blobs.Get(ctx, objectKey)
	if err != nil {
		d.failJob(ctx, jobID, objectKey, "image not found in storage")
		return
	}

	backoff := retry.WithMaxRetries(d.maxAttempts-1, retry.NewExponential(d.baseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.client.Analyze(ctx, jobID, objectKey, image); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.logger.Error(ctx, "analysis dispatch exhausted", "job_id", jobID, "error", err.Error())
		d.failJob(ctx, jobID, objectKey, fmt.Sprintf("failed to reach inference service: %v", err))
	}
}

// failJob records a terminal failure so the job never leaks in processing.
func (d *DirectDispatcher) failJob(ctx context.Context, jobID, objectKey, reason string) {
	jobRepo := d.manager.Jobs(d.db)
	if _, err := jobRepo.MarkTerminal(ctx, jobID, models.StatusFailed, reason); err != nil {
		d.logger.Error(ctx, "failed to mark job failed", "job_id", jobID, "error", err.Error())
		return
	}
	if err := d.blobs.Delete(ctx, objectKey); err != nil {
		d.logger.Warn(ctx, "failed to delete blob for failed job", "job_id", jobID, "error", err.Error())
	}
}
