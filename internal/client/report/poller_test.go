package report

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedFetcher struct {
	reports []*Report
	errs    []error
	calls   int
}

func (f *scriptedFetcher) Report(ctx context.Context, jobID string) (*Report, error) {
	i := f.calls
	f.calls++
	if i >= len(f.reports) {
		i = len(f.reports) - 1
	}
	return f.reports[i], f.errs[i]
}

// newFakeClockPoller wires the poller to a fake clock: every sleep advances
// the clock by the requested duration and records it.
func newFakeClockPoller(fetcher Fetcher, slept *[]time.Duration) *Poller {
	p := NewPoller(fetcher)
	clock := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		*slept = append(*slept, d)
		return nil
	}
	return p
}

func TestWaitStopsOnTerminal(t *testing.T) {
	fetcher := &scriptedFetcher{
		reports: []*Report{
			{JobID: "j1", Status: "processing"},
			{JobID: "j1", Status: "processing"},
			{JobID: "j1", Status: "done"},
		},
		errs: []error{nil, nil, nil},
	}
	var slept []time.Duration
	p := newFakeClockPoller(fetcher, &slept)

	report, err := p.Wait(context.Background(), "j1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != "done" {
		t.Errorf("expected done, got %s", report.Status)
	}
	if fetcher.calls != 3 {
		t.Errorf("expected 3 polls, got %d", fetcher.calls)
	}
	for _, d := range slept {
		if d != 2*time.Second {
			t.Errorf("expected 2s interval early on, got %v", d)
		}
	}
}

func TestWaitBacksOff(t *testing.T) {
	processing := &Report{JobID: "j1", Status: "processing"}
	fetcher := &scriptedFetcher{reports: []*Report{processing}, errs: []error{nil}}
	var slept []time.Duration
	p := newFakeClockPoller(fetcher, &slept)
	p.timeout = 60 * time.Second

	_, err := p.Wait(context.Background(), "j1")
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}

	// 2s intervals for the first 30s, 5s afterwards.
	sawSlow := false
	for i, d := range slept {
		var elapsed time.Duration
		for _, prev := range slept[:i] {
			elapsed += prev
		}
		want := 2 * time.Second
		if elapsed >= 30*time.Second {
			want = 5 * time.Second
			sawSlow = true
		}
		if d != want {
			t.Errorf("sleep %d after %v: expected %v, got %v", i, elapsed, want, d)
		}
	}
	if !sawSlow {
		t.Error("poller never switched to the slow interval")
	}
}

func TestWaitReportsLastError(t *testing.T) {
	fetchErr := errors.New("connection refused")
	fetcher := &scriptedFetcher{reports: []*Report{nil}, errs: []error{fetchErr}}
	var slept []time.Duration
	p := newFakeClockPoller(fetcher, &slept)
	p.timeout = 10 * time.Second

	_, err := p.Wait(context.Background(), "j1")
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if got := err.Error(); !errors.Is(err, ErrPollTimeout) || got == ErrPollTimeout.Error() {
		t.Errorf("timeout error should mention the last fetch error, got %q", got)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	processing := &Report{JobID: "j1", Status: "processing"}
	fetcher := &scriptedFetcher{reports: []*Report{processing}, errs: []error{nil}}
	p := NewPoller(fetcher)
	p.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	_, err := p.Wait(context.Background(), "j1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
