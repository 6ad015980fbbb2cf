package reports

import (
	"context"
	"time"

	"github.com/verifai/verifai/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, report *models.Report) error
	GetByJobID(ctx context.Context, jobID string) (*models.Report, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
