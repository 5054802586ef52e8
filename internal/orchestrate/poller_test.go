package orchestrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edisonlabs/assist-gateway/internal/assistant"
)

func TestNextDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 300 * time.Millisecond},
		{1, 390 * time.Millisecond},
		{2, 507 * time.Millisecond},
		{10, time.Second},
		{100, time.Second},
	}
	for _, tt := range tests {
		if got := NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	// Pacing never shrinks and never exceeds the cap.
	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := NextDelay(i)
		if d < prev || d > time.Second {
			t.Fatalf("NextDelay(%d) = %v out of bounds (prev %v)", i, d, prev)
		}
		prev = d
	}
}

type fakeStatusClient struct {
	statuses []assistant.RunStatus
	calls    int
	err      error
}

func (f *fakeStatusClient) GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	return &assistant.Run{ID: runID, ThreadID: threadID, Status: f.statuses[i]}, nil
}

// newTestPoller wires a poller to a virtual clock advanced by its own sleeps.
func newTestPoller(client StatusClient, budget time.Duration) *Poller {
	p := NewPoller(client, budget)
	clock := time.Now()
	p.now = func() time.Time { return clock }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}
	return p
}

func TestWaitReturnsOnTerminalStatus(t *testing.T) {
	client := &fakeStatusClient{statuses: []assistant.RunStatus{
		assistant.StatusQueued,
		assistant.StatusInProgress,
		assistant.StatusCompleted,
	}}
	p := newTestPoller(client, 9*time.Second)

	run, err := p.Wait(context.Background(), "t1", "r1")
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if run.Status != assistant.StatusCompleted {
		t.Errorf("status = %q, want completed", run.Status)
	}
	if client.calls != 3 {
		t.Errorf("status queries = %d, want 3", client.calls)
	}
}

func TestWaitBudgetExhaustionIsNotAnError(t *testing.T) {
	client := &fakeStatusClient{statuses: []assistant.RunStatus{assistant.StatusInProgress}}
	p := newTestPoller(client, 2*time.Second)

	run, err := p.Wait(context.Background(), "t1", "r1")
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if run.Status != assistant.StatusInProgress {
		t.Errorf("status = %q, want in_progress back for client-driven polling", run.Status)
	}

	// With a 2s budget the backoff ladder (300+390+507+659+857ms...) allows
	// at most six queries before the clock runs out.
	if client.calls < 2 || client.calls > 6 {
		t.Errorf("status queries = %d, want a budget-bounded count", client.calls)
	}
}

func TestWaitRequiresActionStopsPolling(t *testing.T) {
	client := &fakeStatusClient{statuses: []assistant.RunStatus{assistant.StatusRequiresAction}}
	p := newTestPoller(client, 9*time.Second)

	run, err := p.Wait(context.Background(), "t1", "r1")
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if run.Status != assistant.StatusRequiresAction {
		t.Errorf("status = %q", run.Status)
	}
	if client.calls != 1 {
		t.Errorf("status queries = %d, want 1", client.calls)
	}
}

func TestWaitTransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	client := &fakeStatusClient{err: boom}
	p := newTestPoller(client, 9*time.Second)

	_, err := p.Wait(context.Background(), "t1", "r1")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestWaitZeroBudgetQueriesOnce(t *testing.T) {
	client := &fakeStatusClient{statuses: []assistant.RunStatus{assistant.StatusQueued}}
	p := newTestPoller(client, 0)

	run, err := p.Wait(context.Background(), "t1", "r1")
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if run.Status != assistant.StatusQueued {
		t.Errorf("status = %q", run.Status)
	}
	if client.calls != 1 {
		t.Errorf("status queries = %d, want exactly 1", client.calls)
	}
}
