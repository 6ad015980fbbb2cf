// Package dispatch hands finalized jobs to the external analysis service and
// guarantees that a hand-off either starts analysis or resolves the job to a
// terminal failed state. Two channels exist: an in-process direct call with
// retries, and an AMQP queue with at-least-once delivery and a capped
// attempt count. Either way a job never stays in processing without the
// analyzer or a failure record owning it.
package dispatch

import "context"

// Dispatcher hands a finalized job to the analysis channel. Implementations
// must not block on analysis completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, objectKey string) error
}

// AnalysisClient starts analysis of one image with the external service.
type AnalysisClient interface {
	Analyze(ctx context.Context, jobID, objectKey string, image []byte) error
}

// dispatchMessage is the queue payload for one analysis hand-off.
type dispatchMessage struct {
	JobID     string `json:"job_id"`
	ObjectKey string `json:"object_key"`
}
