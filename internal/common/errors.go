// Package common defines shared constants and sentinel errors used across
// the service layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Upload validation errors.
	ErrInvalidContentType = errors.New("invalid content type")
	ErrInvalidFileSize    = errors.New("invalid file size")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrEmptyBody          = errors.New("empty body")

	// Job lifecycle errors.
	ErrInvalidUploadToken    = errors.New("invalid or expired upload token")
	ErrJobNotPending         = errors.New("job not found or not in pending state")
	ErrUploadMissing         = errors.New("upload not found")
	ErrReportMissing         = errors.New("report data missing")
	ErrInvalidAnalysisStatus = errors.New("invalid analysis status")

	// Admission control errors.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrTooManyRequests   = errors.New("too many requests")
)

// RateLimitError carries machine-readable throttling metadata alongside one
// of the admission sentinels (ErrRateLimitExceeded or ErrTooManyRequests).
// Unwrap makes errors.Is against the sentinels work as usual.
type RateLimitError struct {
	Err        error
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	Reset      time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}
