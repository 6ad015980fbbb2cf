package services

import (
	"time"

	"github.com/verifai/verifai/internal/server/models"
)

// TokenGrant is the result of issuing an upload token.
type TokenGrant struct {
	JobID        string `json:"job_id"`
	UploadTarget string `json:"upload_url"`
	ExpiresIn    int64  `json:"expires_in"`
}

// FinalizeResult reports where a finalized job ended up. On a dedup hit the
// JobID is the canonical prior job, not the one passed to Finalize.
type FinalizeResult struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Cached bool             `json:"cached,omitempty"`
}

// AnalysisResult is the callback payload the analyzer posts for a job.
// Optional fields may be absent; they are normalized before persisting.
type AnalysisResult struct {
	JobID        string                `json:"job_id"`
	Status       string                `json:"status"`
	Error        string                `json:"error,omitempty"`
	AILikelihood *float64              `json:"ai_likelihood,omitempty"`
	Confidence   *models.Confidence    `json:"confidence,omitempty"`
	VerdictText  *string               `json:"verdict_text,omitempty"`
	Evidence     []string              `json:"evidence,omitempty"`
	Provenance   *models.Provenance    `json:"provenance,omitempty"`
	Metadata     *models.ImageMetadata `json:"metadata,omitempty"`
	Limitations  []string              `json:"limitations,omitempty"`
}

// ReportView is the fixed-shape polling response. Its shape never varies
// with job state, so clients do not branch on missing fields: non-terminal
// and failed jobs carry empty/neutral report fields.
type ReportView struct {
	JobID        string               `json:"job_id"`
	Status       models.JobStatus     `json:"status"`
	AILikelihood *float64             `json:"ai_likelihood"`
	Confidence   *models.Confidence   `json:"confidence"`
	VerdictText  *string              `json:"verdict_text"`
	Evidence     []string             `json:"evidence"`
	Provenance   models.Provenance    `json:"provenance"`
	Metadata     models.ImageMetadata `json:"metadata"`
	Limitations  []string             `json:"limitations"`
	ExpiresAt    time.Time            `json:"expires_at"`
	Error        string               `json:"error,omitempty"`
}

// emptyReportView builds the neutral view for a job with no report content.
func emptyReportView(job *models.Job) *ReportView {
	return &ReportView{
		JobID:       job.ID,
		Status:      job.Status,
		Evidence:    []string{},
		Provenance:  models.Provenance{Notes: []string{}},
		Limitations: []string{},
		ExpiresAt:   job.ExpiresAt,
	}
}
