package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/verifai/verifai/internal/common"
	sc "github.com/verifai/verifai/internal/server/config"
	"github.com/verifai/verifai/internal/server/models"
	"github.com/verifai/verifai/internal/server/repositories/repomanager"
)

// Limiter gates admission of new work per client identity.
type Limiter interface {
	Allow(ctx context.Context, clientID string) error
}

// RateLimitService enforces two caps per (client, UTC day): a daily request
// limit and a burst interval between consecutive accepted requests. State
// lives in durable rows with atomic increments, never in process memory.
type RateLimitService struct {
	db      *sql.DB
	manager repomanager.RepositoryManager
	config  *sc.Config
	now     func() time.Time
}

func NewRateLimitService(db *sql.DB, manager repomanager.RepositoryManager, config *sc.Config) *RateLimitService {
	return &RateLimitService{
		db:      db,
		manager: manager,
		config:  config,
		now:     time.Now,
	}
}

// Allow admits or rejects one request. On rejection it returns a
// *common.RateLimitError wrapping ErrRateLimitExceeded (daily cap, retry at
// next UTC midnight) or ErrTooManyRequests (burst cap, retry after the
// remaining burst window). The admission itself is a single guarded upsert;
// the rejection classification reads the row afterwards and is best-effort
// metadata only.
func (s *RateLimitService) Allow(ctx context.Context, clientID string) error {
	now := s.now().UTC()
	day := now.Format(models.WindowDateLayout)
	repo := s.manager.RateLimits(s.db)

	admitted, err := repo.TryAcquire(ctx, clientID, day, now, s.config.DailyRequestLimit, s.config.BurstInterval)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if admitted {
		return nil
	}

	w, err := repo.Get(ctx, clientID, day)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Row vanished between the upsert and the read; surface a
			// plain burst rejection.
			return &common.RateLimitError{
				Err:        common.ErrTooManyRequests,
				Limit:      s.config.DailyRequestLimit,
				Remaining:  s.config.DailyRequestLimit,
				RetryAfter: s.config.BurstInterval,
				Reset:      now.Add(s.config.BurstInterval),
			}
		}
		return fmt.Errorf("rate limit lookup: %w", err)
	}

	if w.RequestCount >= s.config.DailyRequestLimit {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		return &common.RateLimitError{
			Err:        common.ErrRateLimitExceeded,
			Limit:      s.config.DailyRequestLimit,
			Remaining:  0,
			RetryAfter: ceilSeconds(midnight.Sub(now)),
			Reset:      midnight,
		}
	}

	retryAfter := ceilSeconds(s.config.BurstInterval - now.Sub(w.LastRequestAt))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &common.RateLimitError{
		Err:        common.ErrTooManyRequests,
		Limit:      s.config.DailyRequestLimit,
		Remaining:  s.config.DailyRequestLimit - w.RequestCount,
		RetryAfter: retryAfter,
		Reset:      now.Add(retryAfter),
	}
}

func ceilSeconds(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
