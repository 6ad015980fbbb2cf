package report

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is returned when a job does not reach a terminal state
// within the overall polling window.
var ErrPollTimeout = errors.New("timed out waiting for analysis result")

// Fetcher is the slice of Client the poller needs.
type Fetcher interface {
	Report(ctx context.Context, jobID string) (*Report, error)
}

// Poller polls for a report until the job reaches a terminal state. It
// starts with a short interval and backs off to a slower one after the job
// has been in flight for a while.
type Poller struct {
	client Fetcher

	fastInterval time.Duration
	slowInterval time.Duration
	slowAfter    time.Duration
	timeout      time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewPoller(client Fetcher) *Poller {
	return &Poller{
		client:       client,
		fastInterval: 2 * time.Second,
		slowInterval: 5 * time.Second,
		slowAfter:    30 * time.Second,
		timeout:      300 * time.Second,
		sleep:        sleepCtx,
		now:          time.Now,
	}
}

// Wait polls until the report is terminal, the overall timeout elapses, or
// the context is cancelled. Transient fetch errors do not abort the wait;
// the last one is attached to the timeout error.
func (p *Poller) Wait(ctx context.Context, jobID string) (*Report, error) {
	start := p.now()
	deadline := start.Add(p.timeout)

	var lastErr error
	for {
		report, err := p.client.Report(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else if report.Terminal() {
			return report, nil
		}

		now := p.now()
		interval := p.fastInterval
		if now.Sub(start) >= p.slowAfter {
			interval = p.slowInterval
		}
		if now.Add(interval).After(deadline) {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last error: %v)", ErrPollTimeout, lastErr)
			}
			return nil, ErrPollTimeout
		}

		if err := p.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
