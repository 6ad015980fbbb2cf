package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/verifai/verifai/internal/dbx"
	"github.com/verifai/verifai/internal/logging"
	"github.com/verifai/verifai/internal/server/blob"
	sc "github.com/verifai/verifai/internal/server/config"
	"github.com/verifai/verifai/internal/server/models"
	"github.com/verifai/verifai/internal/server/repositories/repomanager"
)

// Sweeper purges expired jobs, their reports and blobs, and spent rate-limit
// windows. A blob that cannot be deleted is logged and skipped; the sweep
// continues for all other rows.
type Sweeper struct {
	db      *sql.DB
	manager repomanager.RepositoryManager
	blobs   blob.Store
	config  *sc.Config
	logger  logging.Logger
	now     func() time.Time
}

func NewSweeper(db *sql.DB, manager repomanager.RepositoryManager, blobs blob.Store,
	config *sc.Config, logger logging.Logger) *Sweeper {
	return &Sweeper{
		db:      db,
		manager: manager,
		blobs:   blobs,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Sweep runs one retention pass. Reports are deleted before jobs inside a
// single transaction so the foreign key always holds.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now().UTC()

	expired, err := s.manager.Jobs(s.db).SelectExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("select expired jobs: %w", err)
	}

	for _, job := range expired {
		if job.ObjectKey == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, job.ObjectKey); err != nil {
			s.logger.Warn(ctx, "failed to delete blob for expired job",
				"job_id", job.ID, "object_key", job.ObjectKey, "error", err.Error())
		}
	}

	var reportsDeleted, jobsDeleted int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := s.manager.Reports(tx).DeleteExpired(ctx, now)
		if err != nil {
			return err
		}
		reportsDeleted = n

		n, err = s.manager.Jobs(tx).DeleteExpired(ctx, now)
		if err != nil {
			return err
		}
		jobsDeleted = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge expired jobs: %w", err)
	}

	cutoff := now.AddDate(0, 0, -s.config.RateLimitRetentionDays).Format(models.WindowDateLayout)
	windowsDeleted, err := s.manager.RateLimits(s.db).DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge rate limit windows: %w", err)
	}

	s.logger.Info(ctx, "retention sweep complete",
		"jobs", jobsDeleted, "reports", reportsDeleted, "rate_limit_windows", windowsDeleted)
	return nil
}
