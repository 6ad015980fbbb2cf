package jobs

import (
	"context"
	"time"

	"github.com/verifai/verifai/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	SetFileHash(ctx context.Context, id, fileHash string) error
	TransitionStatus(ctx context.Context, id string, from, to models.JobStatus) (bool, error)
	MarkTerminal(ctx context.Context, id string, status models.JobStatus, errorMessage string) (bool, error)
	FindDoneByHash(ctx context.Context, fileHash, excludeID string, now time.Time) (*models.Job, error)
	SelectExpired(ctx context.Context, now time.Time) ([]*models.Job, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
