// Package jobs provides the PostgreSQL-backed repository for job rows, the
// durable side of the lifecycle state machine. All state transitions are
// expressed as conditional updates so concurrent callers cannot move a job
// out of a terminal state or claim the same transition twice.
package jobs

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

// PostgresRepository implements job storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new pending job row.
func (r *PostgresRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, status, object_key, expires_at, client_ip)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Status, job.ObjectKey, job.ExpiresAt, job.ClientIP)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the job with the given id, or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, created_at, status, object_key,
			COALESCE(file_hash, ''), COALESCE(error_message, ''),
			expires_at, COALESCE(client_ip, '')
		FROM jobs WHERE id = $1
	`
	var job models.Job
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.CreatedAt, &job.Status, &job.ObjectKey,
		&job.FileHash, &job.ErrorMessage, &job.ExpiresAt, &job.ClientIP,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &job, nil
}

// SetFileHash persists the content digest computed during finalize.
func (r *PostgresRepository) SetFileHash(ctx context.Context, id, fileHash string) error {
	query := `UPDATE jobs SET file_hash = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, fileHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// TransitionStatus atomically moves a job from one status to another.
// It returns false when the job is missing or no longer in the from status,
// which is the sole guard against double dispatch.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id string, from, to models.JobStatus) (bool, error) {
	query := `UPDATE jobs SET status = $3 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// MarkTerminal moves a non-terminal job to done or failed, recording the
// error message for failures. Returns false when the job is missing or
// already terminal, which makes callback redelivery a no-op.
func (r *PostgresRepository) MarkTerminal(ctx context.Context, id string, status models.JobStatus, errorMessage string) (bool, error) {
	query := `
		UPDATE jobs SET status = $2, error_message = NULLIF($3, '')
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	res, err := r.db.ExecContext(ctx, query, id, status, errorMessage)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// FindDoneByHash returns the most recently created completed, unexpired job
// with the given content hash, excluding excludeID. Returns
// common.ErrorNotFound when no such job exists.
func (r *PostgresRepository) FindDoneByHash(ctx context.Context, fileHash, excludeID string, now time.Time) (*models.Job, error) {
	query := `
		SELECT id, created_at, status, object_key,
			COALESCE(file_hash, ''), COALESCE(error_message, ''),
			expires_at, COALESCE(client_ip, '')
		FROM jobs
		WHERE file_hash = $1 AND id <> $2 AND status = 'done' AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	var job models.Job
	err := r.db.QueryRowContext(ctx, query, fileHash, excludeID, now).Scan(
		&job.ID, &job.CreatedAt, &job.Status, &job.ObjectKey,
		&job.FileHash, &job.ErrorMessage, &job.ExpiresAt, &job.ClientIP,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &job, nil
}

// SelectExpired returns jobs past their expiry, for the sweeper to reap.
func (r *PostgresRepository) SelectExpired(ctx context.Context, now time.Time) ([]*models.Job, error) {
	query := `
		SELECT id, created_at, status, object_key,
			COALESCE(file_hash, ''), COALESCE(error_message, ''),
			expires_at, COALESCE(client_ip, '')
		FROM jobs WHERE expires_at < $1
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Job
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(
			&job.ID, &job.CreatedAt, &job.Status, &job.ObjectKey,
			&job.FileHash, &job.ErrorMessage, &job.ExpiresAt, &job.ClientIP,
		); err != nil {
			return nil, err
		}
		result = append(result, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteExpired removes all jobs past their expiry and reports the count.
// Reports must be deleted first (see the sweeper) for foreign-key safety.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM jobs WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
