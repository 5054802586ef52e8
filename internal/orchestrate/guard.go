// Package orchestrate drives a remote run to a useful state: the submission
// guard gets a user message onto a thread despite in-flight runs, and the
// poller waits out a run inside a fixed time budget.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edisonlabs/assist-gateway/internal/assistant"
)

// SubmitClient is the slice of the remote API the guard needs.
type SubmitClient interface {
	CreateThread(ctx context.Context, metadata map[string]string) (*assistant.Thread, error)
	CreateMessage(ctx context.Context, threadID, role, text string, metadata map[string]string) (*assistant.Message, error)
}

// Submission is one user message bound for a thread.
type Submission struct {
	// ThreadID continues an existing conversation when set.
	ThreadID string
	Text     string
	Email    string
	Session  string
}

func (s Submission) metadata() map[string]string {
	md := make(map[string]string)
	if s.Email != "" {
		md["email"] = s.Email
	}
	if s.Session != "" {
		md["session"] = s.Session
	}
	return md
}

const (
	defaultAppendRetries = 2
	defaultRetryDelay    = 800 * time.Millisecond
)

// GuardOption configures the guard.
type GuardOption func(*Guard)

// WithRetries sets how many times an append is retried on an active-run
// conflict before the thread is replaced.
func WithRetries(n int) GuardOption {
	return func(g *Guard) {
		g.retries = n
	}
}

// WithRetryDelay sets the pause between conflicted append attempts.
func WithRetryDelay(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.retryDelay = d
	}
}

// WithConflictCounter records active-run conflicts on a metric.
func WithConflictCounter(c prometheus.Counter) GuardOption {
	return func(g *Guard) {
		g.conflicts = c
	}
}

// Guard appends a user message to a thread even when the thread still has an
// in-flight run. The remote rejects appends on such threads; a fast-typing
// or double-clicking client would otherwise see hard 400s.
type Guard struct {
	client     SubmitClient
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
	conflicts  prometheus.Counter
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewGuard creates a submission guard.
func NewGuard(client SubmitClient, logger *slog.Logger, opts ...GuardOption) *Guard {
	g := &Guard{
		client:     client,
		logger:     logger,
		retries:    defaultAppendRetries,
		retryDelay: defaultRetryDelay,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureMessage returns a thread id into which the submission's message has
// been appended. An empty Submission.ThreadID means a fresh thread. On a
// persistent active-run conflict the original thread is abandoned and the
// message lands on a brand-new thread: prior context is lost, availability
// wins. That tradeoff is deliberate.
func (g *Guard) EnsureMessage(ctx context.Context, sub Submission) (string, error) {
	threadID := sub.ThreadID
	if threadID == "" {
		thread, err := g.client.CreateThread(ctx, sub.metadata())
		if err != nil {
			return "", fmt.Errorf("failed to create thread: %w", err)
		}
		threadID = thread.ID
	}

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.retryDelay); err != nil {
				return "", err
			}
		}

		_, err := g.client.CreateMessage(ctx, threadID, "user", sub.Text, nil)
		if err == nil {
			return threadID, nil
		}
		if !assistant.IsActiveRunConflict(err) {
			return "", err
		}

		lastErr = err
		if g.conflicts != nil {
			g.conflicts.Inc()
		}
		g.logger.Warn("active run blocked message append",
			slog.String("thread_id", threadID),
			slog.Int("attempt", attempt+1),
		)
	}

	// The conflict outlived every retry. Replace the thread.
	g.logger.Warn("replacing conflicted thread",
		slog.String("thread_id", threadID),
		slog.String("error", lastErr.Error()),
	)
	thread, err := g.client.CreateThread(ctx, sub.metadata())
	if err != nil {
		return "", fmt.Errorf("failed to create replacement thread: %w", err)
	}
	if _, err := g.client.CreateMessage(ctx, thread.ID, "user", sub.Text, nil); err != nil {
		return "", fmt.Errorf("append to replacement thread failed: %w", err)
	}
	return thread.ID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
