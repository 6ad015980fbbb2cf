// Package ratelimits provides the PostgreSQL-backed repository for per-client
// daily admission windows. The increment is a single guarded upsert so that
// concurrent requests from the same client never lose updates.
package ratelimits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/verifai/verifai/internal/common"
	"github.com/verifai/verifai/internal/dbx"
	"github.com/verifai/verifai/internal/server/models"
)

// PostgresRepository implements rate-limit window storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// TryAcquire atomically admits one request for (clientID, windowDate).
// A missing row is inserted with count 1. An existing row is incremented
// only while the daily count is under limit and the burst interval since the
// last accepted request has elapsed. Returns false when the request was not
// admitted; the caller classifies the rejection from the window row.
func (r *PostgresRepository) TryAcquire(ctx context.Context, clientID, windowDate string, now time.Time, limit int64, burst time.Duration) (bool, error) {
	query := `
		INSERT INTO rate_limits (client_id, window_date, request_count, last_request_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (client_id, window_date) DO UPDATE
		SET request_count = rate_limits.request_count + 1, last_request_at = EXCLUDED.last_request_at
		WHERE rate_limits.request_count < $4
			AND EXCLUDED.last_request_at >= rate_limits.last_request_at + make_interval(secs => $5)
	`
	res, err := r.db.ExecContext(ctx, query, clientID, windowDate, now, limit, burst.Seconds())
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// Get returns the window row for (clientID, windowDate), or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, clientID, windowDate string) (*models.RateLimitWindow, error) {
	query := `
		SELECT client_id, window_date, request_count, last_request_at
		FROM rate_limits WHERE client_id = $1 AND window_date = $2
	`
	var w models.RateLimitWindow
	err := r.db.QueryRowContext(ctx, query, clientID, windowDate).Scan(
		&w.ClientID, &w.WindowDate, &w.RequestCount, &w.LastRequestAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &w, nil
}

// DeleteBefore purges windows older than the cutoff calendar day.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoffDate string) (int64, error) {
	query := `DELETE FROM rate_limits WHERE window_date < $1`
	res, err := r.db.ExecContext(ctx, query, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
