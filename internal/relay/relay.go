// Package relay forwards a streamed remote run to a browser over
// server-sent events: incremental text as bare data frames, lifecycle
// transitions as named events.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edisonlabs/assist-gateway/internal/assistant"
	"github.com/edisonlabs/assist-gateway/internal/orchestrate"
	"github.com/edisonlabs/assist-gateway/internal/sse"
)

// Streamer starts a streamed run on the remote service.
type Streamer interface {
	StreamRun(ctx context.Context, threadID, assistantID string) (<-chan assistant.StreamResult, error)
}

// Submitter places the user message onto a usable thread first.
type Submitter interface {
	EnsureMessage(ctx context.Context, sub orchestrate.Submission) (string, error)
}

// Summary is what the stream delivered, for audit logging after the fact.
type Summary struct {
	ThreadID  string
	RunID     string
	Reply     string
	Completed bool
}

// Relay owns one SSE channel per call to Serve.
type Relay struct {
	streamer    Streamer
	submitter   Submitter
	assistantID string
	logger      *slog.Logger
	events      *prometheus.CounterVec
}

// New creates a relay. events may be nil.
func New(streamer Streamer, submitter Submitter, assistantID string, logger *slog.Logger, events *prometheus.CounterVec) *Relay {
	return &Relay{
		streamer:    streamer,
		submitter:   submitter,
		assistantID: assistantID,
		logger:      logger,
		events:      events,
	}
}

type metaPayload struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId,omitempty"`
}

type deltaPayload struct {
	Delta string `json:"delta"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Serve submits the message, streams the run, and forwards every event in
// arrival order. There is no time budget: the channel stays open until the
// remote run ends, errors, or the client disconnects. The returned summary
// reflects whatever was delivered before the channel closed.
func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request, sub orchestrate.Submission) Summary {
	var sum Summary

	sw, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return sum
	}

	// Cancelling releases the remote stream once the client goes away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	threadID := sub.ThreadID
	if sub.Text != "" {
		threadID, err = rl.submitter.EnsureMessage(ctx, sub)
		if err != nil {
			rl.fail(sw, "message submission failed", err)
			return sum
		}
	}
	sum.ThreadID = threadID

	// Identifiers go out early so the client can fall back to polling if the
	// stream stalls or a proxy buffers it.
	if err := sw.Event("meta", metaPayload{ThreadID: threadID}); err != nil {
		return sum
	}

	events, err := rl.streamer.StreamRun(ctx, threadID, rl.assistantID)
	if err != nil {
		rl.fail(sw, "failed to start streamed run", err)
		return sum
	}

	var reply strings.Builder
	for res := range events {
		if res.Err != nil {
			rl.fail(sw, "remote stream failed", res.Err)
			sum.Reply = reply.String()
			return sum
		}

		ev := res.Event
		rl.count(ev.Type)

		switch ev.Type {
		case assistant.EventRunCreated:
			run, err := ev.Run()
			if err != nil {
				continue
			}
			sum.RunID = run.ID
			err = sw.Event("meta", metaPayload{ThreadID: threadID, RunID: run.ID})
			if err != nil {
				return rl.abandon(cancel, events, sum, reply.String())
			}

		case assistant.EventMessageDelta:
			delta, ok := ev.TextDelta()
			if !ok {
				continue
			}
			reply.WriteString(delta)
			if err := sw.Event("", deltaPayload{Delta: delta}); err != nil {
				return rl.abandon(cancel, events, sum, reply.String())
			}

		case assistant.EventMessageCompleted:
			if err := sw.Event("message_complete", struct{}{}); err != nil {
				return rl.abandon(cancel, events, sum, reply.String())
			}

		case assistant.EventRunCompleted:
			sum.Completed = true

		case assistant.EventRunFailed, assistant.EventRunCancelled, assistant.EventRunExpired:
			run, err := ev.Run()
			status := assistant.StatusFailed
			if err == nil {
				status = run.Status
			}
			sw.Event("error", errorPayload{Error: "Run status: " + string(status)})
			sum.Reply = reply.String()
			return sum

		case assistant.EventDone:
			// terminal frame from the remote; fall through to end
		}
	}

	sum.Reply = strings.TrimSpace(reply.String())
	sw.Event("end", struct{}{})
	return sum
}

// abandon stops pulling from the remote after the client disconnected and
// drains the producer so it can exit.
func (rl *Relay) abandon(cancel context.CancelFunc, events <-chan assistant.StreamResult, sum Summary, reply string) Summary {
	rl.logger.Info("client disconnected, releasing remote stream",
		slog.String("thread_id", sum.ThreadID),
		slog.String("run_id", sum.RunID),
	)
	cancel()
	for range events {
	}
	sum.Reply = reply
	return sum
}

func (rl *Relay) fail(sw *sse.Writer, msg string, err error) {
	rl.logger.Error(msg, slog.String("error", err.Error()))
	sw.Event("error", errorPayload{Error: err.Error()})
}

func (rl *Relay) count(eventType string) {
	if rl.events != nil {
		rl.events.WithLabelValues(eventType).Inc()
	}
}
