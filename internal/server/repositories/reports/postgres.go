// Package reports provides the PostgreSQL-backed repository for analyzer
// verdicts. Structured fields (evidence, provenance, metadata, limitations)
// are stored as JSON text columns, mirroring what the analyzer sends.
package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/verifai/verifai/internal/common"
	"github.com/verifai/verifai/internal/dbx"
	"github.com/verifai/verifai/internal/server/models"
)

// PostgresRepository implements report storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the report for a job. A conflicting insert for the same job
// is silently ignored so that callback redelivery stays idempotent.
func (r *PostgresRepository) Create(ctx context.Context, report *models.Report) error {
	evidence, err := json.Marshal(report.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	metadata, err := json.Marshal(report.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	provenance, err := json.Marshal(report.Provenance)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	limitations, err := json.Marshal(report.Limitations)
	if err != nil {
		return fmt.Errorf("marshal limitations: %w", err)
	}

	query := `
		INSERT INTO reports (job_id, ai_likelihood, confidence, verdict_text,
			evidence_json, metadata_json, provenance_json, limitations_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		report.JobID, report.AILikelihood, report.Confidence, report.VerdictText,
		string(evidence), string(metadata), string(provenance), string(limitations))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByJobID returns the report for a job, or common.ErrorNotFound.
func (r *PostgresRepository) GetByJobID(ctx context.Context, jobID string) (*models.Report, error) {
	query := `
		SELECT job_id, created_at, ai_likelihood, confidence, COALESCE(verdict_text, ''),
			evidence_json, metadata_json, provenance_json, limitations_json
		FROM reports WHERE job_id = $1
	`
	var (
		report                                     models.Report
		evidence, metadata, provenance, limitation string
	)
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&report.JobID, &report.CreatedAt, &report.AILikelihood, &report.Confidence,
		&report.VerdictText, &evidence, &metadata, &provenance, &limitation,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := json.Unmarshal([]byte(evidence), &report.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &report.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(provenance), &report.Provenance); err != nil {
		return nil, fmt.Errorf("unmarshal provenance: %w", err)
	}
	if err := json.Unmarshal([]byte(limitation), &report.Limitations); err != nil {
		return nil, fmt.Errorf("unmarshal limitations: %w", err)
	}
	return &report, nil
}

// DeleteExpired removes reports whose owning job is past its expiry.
// Runs before the job delete so the foreign key never blocks the sweep.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM reports WHERE job_id IN (SELECT id FROM jobs WHERE expires_at < $1)`
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
