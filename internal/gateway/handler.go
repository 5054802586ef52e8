// Package gateway is the request router: it parses the inbound request,
// dispatches on the action discriminator (submit-and-wait, poll, stream),
// and shapes the JSON or SSE response.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edisonlabs/assist-gateway/internal/assistant"
	"github.com/edisonlabs/assist-gateway/internal/auditlog"
	"github.com/edisonlabs/assist-gateway/internal/config"
	"github.com/edisonlabs/assist-gateway/internal/cors"
	"github.com/edisonlabs/assist-gateway/internal/orchestrate"
	"github.com/edisonlabs/assist-gateway/internal/relay"
	"github.com/edisonlabs/assist-gateway/internal/server"
	"github.com/edisonlabs/assist-gateway/internal/telemetry"
)

// RemoteClient is the full remote surface the router drives.
type RemoteClient interface {
	orchestrate.SubmitClient
	orchestrate.StatusClient
	CreateRun(ctx context.Context, threadID, assistantID string) (*assistant.Run, error)
	ListMessages(ctx context.Context, threadID string) (*assistant.MessageList, error)
	relay.Streamer
}

// noReply stands in when a completed run left no assistant message behind.
const noReply = "No response."

// Handler serves the /assist endpoint.
type Handler struct {
	cfg     *config.Config
	client  RemoteClient
	policy  *cors.Policy
	guard   *orchestrate.Guard
	poller  *orchestrate.Poller
	relay   *relay.Relay
	audit   *auditlog.Forwarder
	logger  *slog.Logger
	metrics *telemetry.Metrics
	emailRe *regexp.Regexp
}

// NewHandler wires the router. metrics may be nil.
func NewHandler(cfg *config.Config, client RemoteClient, audit *auditlog.Forwarder, logger *slog.Logger, metrics *telemetry.Metrics) *Handler {
	h := &Handler{
		cfg:     cfg,
		client:  client,
		policy:  cors.NewPolicy(cfg.Gateway.AllowOrigin),
		audit:   audit,
		logger:  logger,
		metrics: metrics,
		emailRe: regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(cfg.Gateway.EmailDomain) + `$`),
	}

	var guardOpts []orchestrate.GuardOption
	var pollOpts []orchestrate.PollerOption
	var streamEvents *prometheus.CounterVec
	if metrics != nil {
		guardOpts = append(guardOpts, orchestrate.WithConflictCounter(metrics.ActiveRunConflictTotal))
		pollOpts = append(pollOpts, orchestrate.WithAttemptCounter(metrics.PollAttemptTotal))
		streamEvents = metrics.StreamEventTotal
	}
	h.guard = orchestrate.NewGuard(client, logger, guardOpts...)
	h.poller = orchestrate.NewPoller(client, cfg.Gateway.PollBudget(), pollOpts...)
	h.relay = relay.New(client, h.guard, cfg.OpenAI.AssistantID, logger, streamEvents)
	return h
}

type assistRequest struct {
	Action   string `json:"action,omitempty"`
	Message  string `json:"message,omitempty"`
	Email    string `json:"email,omitempty"`
	Session  string `json:"session,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	RunID    string `json:"runId,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// submitResponse is the synchronous success envelope.
type submitResponse struct {
	Reply    string `json:"reply"`
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId,omitempty"`
	Status   string `json:"status,omitempty"`
}

// pendingResponse tells the client to continue via the poll action.
type pendingResponse struct {
	Pending  bool   `json:"pending"`
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	Status   string `json:"status"`
}

// pollResponse is the explicit-poll envelope.
type pollResponse struct {
	Done     bool   `json:"done"`
	Reply    string `json:"reply,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	RunID    string `json:"runId,omitempty"`
	Status   string `json:"status"`
}

// HandlePreflight answers CORS preflight with headers only.
func (h *Handler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	h.policy.Apply(w.Header(), r.Header.Get("Origin"))
	w.WriteHeader(http.StatusNoContent)
}

// HandleMethodNotAllowed rejects everything but POST and OPTIONS, with CORS
// headers so the browser surfaces the real status.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{Error: "Method Not Allowed"})
}

// HandleAssist dispatches an inbound request to one of the three
// orchestration modes.
func (h *Handler) HandleAssist(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req assistRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Bad JSON"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Bad JSON"})
			h.observe("invalid", start, http.StatusBadRequest)
			return
		}
	}

	server.AddLogField(r.Context(), "action", req.Action)

	switch req.Action {
	case "poll":
		status := h.handlePoll(w, r, req)
		h.observe("poll", start, status)
	case "stream":
		h.handleStream(w, r, req)
		h.observe("stream", start, http.StatusOK)
	default:
		status := h.handleSubmit(w, r, req)
		h.observe("submit", start, status)
	}
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request, req assistRequest) int {
	if req.ThreadID == "" || req.RunID == "" {
		return h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Missing threadId or runId"})
	}
	if h.cfg.OpenAI.APIKey == "" {
		return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Server not configured"})
	}

	server.AddLogField(r.Context(), "thread_id", req.ThreadID)
	server.AddLogField(r.Context(), "run_id", req.RunID)

	run, err := h.client.GetRun(r.Context(), req.ThreadID, req.RunID)
	if err != nil {
		return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: remoteMessage(err)})
	}

	if run.Status.Pending() {
		return h.writeJSON(w, r, http.StatusAccepted, pollResponse{
			Done:     false,
			ThreadID: req.ThreadID,
			RunID:    req.RunID,
			Status:   string(run.Status),
		})
	}

	reply := "Run status: " + string(run.Status)
	if run.Status.Actionable() {
		reply, err = h.fetchReply(r.Context(), req.ThreadID)
		if err != nil {
			return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: remoteMessage(err)})
		}
	}

	h.recordExchange(r, req.Session, req.ThreadID, req.RunID, "", reply)
	return h.writeJSON(w, r, http.StatusOK, pollResponse{
		Done:     true,
		Reply:    reply,
		ThreadID: req.ThreadID,
		RunID:    req.RunID,
		Status:   string(run.Status),
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request, req assistRequest) int {
	if req.Message == "" {
		return h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Missing field: message"})
	}
	if !h.emailRe.MatchString(req.Email) {
		return h.writeJSON(w, r, http.StatusForbidden, errorResponse{
			Error: "Email must end with @" + h.cfg.Gateway.EmailDomain,
		})
	}
	if !h.cfg.OpenAI.Configured() {
		return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Server not configured"})
	}

	ctx := r.Context()
	threadID, err := h.guard.EnsureMessage(ctx, orchestrate.Submission{
		ThreadID: req.ThreadID,
		Text:     req.Message,
		Email:    req.Email,
		Session:  req.Session,
	})
	if err != nil {
		return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: remoteMessage(err)})
	}
	server.AddLogField(ctx, "thread_id", threadID)

	run, err := h.client.CreateRun(ctx, threadID, h.cfg.OpenAI.AssistantID)
	if err != nil {
		return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: remoteMessage(err)})
	}
	server.AddLogField(ctx, "run_id", run.ID)

	run, err = h.poller.Wait(ctx, threadID, run.ID)
	if err != nil {
		return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: remoteMessage(err)})
	}

	if run.Status.Pending() {
		// Budget spent; the client continues via action=poll.
		return h.writeJSON(w, r, http.StatusAccepted, pendingResponse{
			Pending:  true,
			ThreadID: threadID,
			RunID:    run.ID,
			Status:   string(run.Status),
		})
	}

	reply := "Run status: " + string(run.Status)
	if run.Status.Actionable() {
		reply, err = h.fetchReply(ctx, threadID)
		if err != nil {
			return h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: remoteMessage(err)})
		}
	}

	h.recordExchange(r, req.Session, threadID, run.ID, req.Message, reply)
	return h.writeJSON(w, r, http.StatusOK, submitResponse{
		Reply:    reply,
		ThreadID: threadID,
		RunID:    run.ID,
		Status:   string(run.Status),
	})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req assistRequest) {
	if req.Message == "" && req.ThreadID == "" {
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Missing field: message or threadId"})
		return
	}
	if !h.cfg.OpenAI.Configured() {
		h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "Server not configured"})
		return
	}

	// CORS headers go on before the writer commits the 200.
	h.policy.Apply(w.Header(), r.Header.Get("Origin"))

	sum := h.relay.Serve(w, r, orchestrate.Submission{
		ThreadID: req.ThreadID,
		Text:     req.Message,
		Email:    req.Email,
		Session:  req.Session,
	})

	server.AddLogField(r.Context(), "thread_id", sum.ThreadID)
	server.AddLogField(r.Context(), "run_id", sum.RunID)
	if sum.Completed {
		h.recordExchange(r, req.Session, sum.ThreadID, sum.RunID, req.Message, sum.Reply)
	}
}

// fetchReply synthesizes the reply text for an actionable run.
func (h *Handler) fetchReply(ctx context.Context, threadID string) (string, error) {
	list, err := h.client.ListMessages(ctx, threadID)
	if err != nil {
		return "", err
	}
	if reply := list.LatestAssistantReply(); reply != "" {
		return reply, nil
	}
	return noReply, nil
}

// recordExchange fires the audit logger without ever touching the response.
func (h *Handler) recordExchange(r *http.Request, session, threadID, runID, userText, reply string) {
	if h.audit == nil {
		return
	}
	h.audit.ForwardAsync(auditlog.Record{
		Session:     session,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
		AssistantID: h.cfg.OpenAI.AssistantID,
		ThreadID:    threadID,
		RunID:       runID,
		User:        userText,
		Assistant:   reply,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) int {
	h.policy.Apply(w.Header(), r.Header.Get("Origin"))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
	return status
}

func (h *Handler) observe(action string, start time.Time, status int) {
	if h.metrics == nil {
		return
	}
	h.metrics.RequestTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
	h.metrics.RequestDurationMs.WithLabelValues(action).Observe(float64(time.Since(start).Milliseconds()))
}

// remoteMessage surfaces the remote's own message text for 500s, matching
// what the browser client already renders.
func remoteMessage(err error) string {
	var apiErr *assistant.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
