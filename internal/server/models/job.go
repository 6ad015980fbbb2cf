// Package models contains the server-side data structures persisted by the
// repositories.
package models

import "time"

// JobStatus is the lifecycle state of an analysis job.
// Transitions: pending -> processing -> done | failed. A finalize cache hit
// moves pending directly to done. Done and failed are terminal.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is a single upload-to-report workflow instance.
//
// ObjectKey is immutable after creation and namespaced under the job id.
// FileHash is empty until finalize computes the content digest; it is set
// at most once. ErrorMessage is only populated for failed jobs.
type Job struct {
	ID           string
	CreatedAt    time.Time
	Status       JobStatus
	ObjectKey    string
	FileHash     string
	ErrorMessage string
	ExpiresAt    time.Time
	ClientIP     string
}

// Expired reports whether the job is past its TTL at the given instant.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt.Before(now)
}
