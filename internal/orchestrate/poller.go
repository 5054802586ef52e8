package orchestrate

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edisonlabs/assist-gateway/internal/assistant"
)

// StatusClient is the slice of the remote API the poller needs.
type StatusClient interface {
	GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error)
}

const (
	pollInitialDelay = 300 * time.Millisecond
	pollMaxDelay     = time.Second
	pollMultiplier   = 1.3
)

// NextDelay returns the pause before poll attempt n (zero-based): 300ms
// growing by 1.3x per step, capped at 1s. Pure, so the pacing is testable
// without timers.
func NextDelay(attempt int) time.Duration {
	d := float64(pollInitialDelay)
	for i := 0; i < attempt; i++ {
		d *= pollMultiplier
		if time.Duration(d) >= pollMaxDelay {
			return pollMaxDelay
		}
	}
	return time.Duration(d)
}

// PollerOption configures the poller.
type PollerOption func(*Poller)

// WithAttemptCounter records status queries on a metric.
func WithAttemptCounter(c prometheus.Counter) PollerOption {
	return func(p *Poller) {
		p.attempts = c
	}
}

// Poller drives a backoff-paced status loop until a run leaves the pending
// bucket or a wall-clock budget runs out.
type Poller struct {
	client   StatusClient
	budget   time.Duration
	attempts prometheus.Counter
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewPoller creates a poller with the given time budget.
func NewPoller(client StatusClient, budget time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		client: client,
		budget: budget,
		sleep:  sleepCtx,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait polls the run until it leaves the pending bucket or the budget is
// spent. A still-pending run on return is not an error: it tells the caller
// to hand continuation over to client-driven polling. Transport errors
// propagate immediately, unretried.
func (p *Poller) Wait(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	start := p.now()
	for attempt := 0; ; attempt++ {
		if p.attempts != nil {
			p.attempts.Inc()
		}
		run, err := p.client.GetRun(ctx, threadID, runID)
		if err != nil {
			return nil, fmt.Errorf("run status query failed: %w", err)
		}
		if !run.Status.Pending() {
			return run, nil
		}
		if p.now().Sub(start) >= p.budget {
			return run, nil
		}
		if err := p.sleep(ctx, NextDelay(attempt)); err != nil {
			return run, nil
		}
	}
}
