// Package services contains the job lifecycle engine, admission control and
// retention sweeping that sit between the HTTP surface and the stores.
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/verifai/verifai/internal/common"
	"github.com/verifai/verifai/internal/logging"
	"github.com/verifai/verifai/internal/server/blob"
	sc "github.com/verifai/verifai/internal/server/config"
	"github.com/verifai/verifai/internal/server/dispatch"
	"github.com/verifai/verifai/internal/server/models"
	"github.com/verifai/verifai/internal/server/repositories/repomanager"
)

// AcceptedContentTypes is the set of image types the service takes in.
var AcceptedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/tiff": {},
}

// JobService is the lifecycle engine: it owns every transition of the
// pending -> processing -> done|failed state machine, the content-hash
// dedup cache, and the hand-off to the dispatch channel. All coordination
// goes through the durable job table; the service keeps no state between
// calls.
type JobService struct {
	db         *sql.DB
	manager    repomanager.RepositoryManager
	blobs      blob.Store
	dispatcher dispatch.Dispatcher
	limiter    Limiter
	config     *sc.Config
	logger     logging.Logger
	now        func() time.Time
}

func NewJobService(db *sql.DB, manager repomanager.RepositoryManager, blobs blob.Store,
	dispatcher dispatch.Dispatcher, limiter Limiter, config *sc.Config, logger logging.Logger) *JobService {
	return &JobService{
		db:         db,
		manager:    manager,
		blobs:      blobs,
		dispatcher: dispatcher,
		limiter:    limiter,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// IssueToken admits the request through the rate limiter, validates the
// declared upload, and creates a pending job with a fresh job-scoped blob
// key. Limiter rejections are returned untouched.
func (s *JobService) IssueToken(ctx context.Context, clientIP, contentType string, fileSize int64) (*TokenGrant, error) {
	if err := s.limiter.Allow(ctx, clientIP); err != nil {
		return nil, err
	}

	if _, ok := AcceptedContentTypes[contentType]; !ok {
		return nil, common.ErrInvalidContentType
	}
	if fileSize <= 0 || fileSize > s.config.MaxUploadSize {
		return nil, common.ErrInvalidFileSize
	}

	id := uuid.New().String()
	job := &models.Job{
		ID:        id,
		Status:    models.StatusPending,
		ObjectKey: "uploads/" + id,
		ExpiresAt: s.now().UTC().Add(s.config.ReportTTL),
		ClientIP:  clientIP,
	}
	if err := s.manager.Jobs(s.db).Create(ctx, job); err != nil {
		return nil, err
	}

	return &TokenGrant{
		JobID:        id,
		UploadTarget: "/api/upload/" + id,
		ExpiresIn:    int64(s.config.UploadExpiry.Seconds()),
	}, nil
}

// AcceptUpload streams the request body into the job's blob key. The job
// status does not change: a pending job may be uploaded to repeatedly before
// finalize, and the last write wins.
func (s *JobService) AcceptUpload(ctx context.Context, jobID, contentType string, contentLength int64, body io.Reader) error {
	job, err := s.manager.Jobs(s.db).Get(ctx, jobID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrInvalidUploadToken
	}
	if err != nil {
		return err
	}
	if job.Status != models.StatusPending {
		return common.ErrInvalidUploadToken
	}

	if _, ok := AcceptedContentTypes[contentType]; !ok {
		return common.ErrInvalidContentType
	}
	if contentLength > s.config.MaxUploadSize {
		return common.ErrPayloadTooLarge
	}
	if body == nil || contentLength == 0 {
		return common.ErrEmptyBody
	}
	if contentLength < 0 {
		// Chunked transfer declares no length; buffer to size it. The HTTP
		// layer already bounds the stream at the upload cap.
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if len(data) == 0 {
			return common.ErrEmptyBody
		}
		if int64(len(data)) > s.config.MaxUploadSize {
			return common.ErrPayloadTooLarge
		}
		body = bytes.NewReader(data)
		contentLength = int64(len(data))
	}

	if err := s.blobs.Put(ctx, job.ObjectKey, contentType, body, contentLength); err != nil {
		return fmt.Errorf("blob put: %w", err)
	}
	return nil
}

// Finalize locks in the uploaded bytes: it hashes the blob, persists the
// hash, and either aliases the job to a prior completed job with identical
// content or claims the processing transition and hands off to the dispatch
// channel. The pending-status precondition plus the conditional update are
// the only race guard; the loser of a concurrent finalize gets
// ErrJobNotPending.
func (s *JobService) Finalize(ctx context.Context, jobID string) (*FinalizeResult, error) {
	jobRepo := s.manager.Jobs(s.db)

	job, err := jobRepo.Get(ctx, jobID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrJobNotPending
	}
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusPending {
		return nil, common.ErrJobNotPending
	}

	exists, err := s.blobs.Exists(ctx, job.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("blob head: %w", err)
	}
	if !exists {
		return nil, common.ErrUploadMissing
	}

	data, err := s.blobs.Get(ctx, job.ObjectKey)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrUploadMissing
	}
	if err != nil {
		return nil, fmt.Errorf("blob get: %w", err)
	}

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	// Recorded even on a dedup hit, so this job stays a lookup candidate
	// for future uploads.
	if err := jobRepo.SetFileHash(ctx, jobID, fileHash); err != nil {
		return nil, err
	}

	prior, err := jobRepo.FindDoneByHash(ctx, fileHash, jobID, s.now().UTC())
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	if prior != nil {
		// Cache hit: alias this job to the canonical one. The job is
		// marked done with no report of its own; its blob is redundant.
		claimed, err := jobRepo.TransitionStatus(ctx, jobID, models.StatusPending, models.StatusDone)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, common.ErrJobNotPending
		}
		if err := s.blobs.Delete(ctx, job.ObjectKey); err != nil {
			s.logger.Warn(ctx, "failed to delete duplicate blob", "job_id", jobID, "error", err.Error())
		}
		return &FinalizeResult{JobID: prior.ID, Status: models.StatusDone, Cached: true}, nil
	}

	claimed, err := jobRepo.TransitionStatus(ctx, jobID, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, common.ErrJobNotPending
	}

	if err := s.dispatcher.Dispatch(ctx, jobID, job.ObjectKey); err != nil {
		// The hand-off itself failed; resolve to a terminal state rather
		// than leaking a stuck processing job.
		s.logger.Error(ctx, "dispatch hand-off failed", "job_id", jobID, "error", err.Error())
		if _, terr := jobRepo.MarkTerminal(ctx, jobID, models.StatusFailed, "failed to dispatch analysis"); terr != nil {
			s.logger.Error(ctx, "failed to mark job failed", "job_id", jobID, "error", terr.Error())
		}
		return &FinalizeResult{JobID: jobID, Status: models.StatusFailed}, nil
	}

	return &FinalizeResult{JobID: jobID, Status: models.StatusProcessing}, nil
}

// HandleAnalysisResult is the single re-entry point for the analyzer
// callback. The shared secret is verified before any job state is touched.
// Redelivery of a result for an already-terminal job is a no-op success.
func (s *JobService) HandleAnalysisResult(ctx context.Context, secret string, res *AnalysisResult) error {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.SharedSecret)) != 1 {
		return common.ErrorUnauthorized
	}

	jobRepo := s.manager.Jobs(s.db)
	job, err := jobRepo.Get(ctx, res.JobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	switch res.Status {
	case string(models.StatusFailed):
		msg := res.Error
		if msg == "" {
			msg = "Analysis failed"
		}
		if _, err := jobRepo.MarkTerminal(ctx, res.JobID, models.StatusFailed, msg); err != nil {
			return err
		}
	case string(models.StatusDone):
		report := buildReport(res)
		if err := s.manager.Reports(s.db).Create(ctx, report); err != nil {
			return err
		}
		if _, err := jobRepo.MarkTerminal(ctx, res.JobID, models.StatusDone, ""); err != nil {
			return err
		}
	default:
		return common.ErrInvalidAnalysisStatus
	}

	if err := s.blobs.Delete(ctx, job.ObjectKey); err != nil {
		s.logger.Warn(ctx, "failed to delete blob for finished job", "job_id", job.ID, "error", err.Error())
	}
	return nil
}

// GetReport returns the fixed-shape view for a job. Missing and expired
// jobs are indistinguishable to the caller.
func (s *JobService) GetReport(ctx context.Context, jobID string) (*ReportView, error) {
	job, err := s.manager.Jobs(s.db).Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Expired(s.now().UTC()) {
		return nil, common.ErrorNotFound
	}

	view := emptyReportView(job)

	switch job.Status {
	case models.StatusFailed:
		view.Error = job.ErrorMessage
		if view.Error == "" {
			view.Error = "Analysis failed."
		}
	case models.StatusDone:
		report, err := s.manager.Reports(s.db).GetByJobID(ctx, jobID)
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrReportMissing
		}
		if err != nil {
			return nil, err
		}
		view.AILikelihood = report.AILikelihood
		view.Confidence = report.Confidence
		if report.VerdictText != "" {
			view.VerdictText = &report.VerdictText
		}
		view.Evidence = report.Evidence
		view.Provenance = report.Provenance
		view.Metadata = report.Metadata
		view.Limitations = report.Limitations
	}

	return view, nil
}

// buildReport normalizes optional callback fields so the persisted report
// never carries nil collections.
func buildReport(res *AnalysisResult) *models.Report {
	report := &models.Report{
		JobID:        res.JobID,
		AILikelihood: res.AILikelihood,
		Confidence:   res.Confidence,
		Evidence:     res.Evidence,
		Limitations:  res.Limitations,
	}
	if res.VerdictText != nil {
		report.VerdictText = *res.VerdictText
	}
	if res.Evidence == nil {
		report.Evidence = []string{}
	}
	if res.Limitations == nil {
		report.Limitations = []string{}
	}
	if res.Provenance != nil {
		report.Provenance = *res.Provenance
	}
	if report.Provenance.Notes == nil {
		report.Provenance.Notes = []string{}
	}
	if res.Metadata != nil {
		report.Metadata = *res.Metadata
	}
	return report
}
