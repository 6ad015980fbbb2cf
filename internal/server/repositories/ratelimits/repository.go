package ratelimits

import (
	"context"
	"time"

	"github.com/verifai/verifai/internal/server/models"
)

type Repository interface {
	TryAcquire(ctx context.Context, clientID, windowDate string, now time.Time, limit int64, burst time.Duration) (bool, error)
	Get(ctx context.Context, clientID, windowDate string) (*models.RateLimitWindow, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int64, error)
}
