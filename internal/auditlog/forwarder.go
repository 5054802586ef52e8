// Package auditlog forwards a per-exchange usage record to a configured
// webhook. Logging is best-effort: every failure is swallowed and only
// visible in the gateway's own structured logs, never in the user-facing
// response.
package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const forwardTimeout = 8 * time.Second

// Records are timestamped in the school's civil timezone, not the host's.
const civilTimezone = "Asia/Ho_Chi_Minh"

// Record is one question/answer exchange.
type Record struct {
	Session     string `json:"session"`
	IP          string `json:"ip"`
	UserAgent   string `json:"ua"`
	AssistantID string `json:"assistantId"`
	ThreadID    string `json:"threadId"`
	RunID       string `json:"runId"`
	User        string `json:"user"`
	Assistant   string `json:"assistant"`
}

// Forwarder posts records to a webhook. A Google Apps Script endpoint gets a
// CSV row as text/plain with the token in the query (Apps Script cannot read
// custom headers); anything else gets JSON with the token in x-log-token.
type Forwarder struct {
	webhookURL string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	loc        *time.Location
	now        func() time.Time
}

// Option configures the forwarder.
type Option func(*Forwarder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(f *Forwarder) {
		f.httpClient = httpClient
	}
}

// NewForwarder creates a forwarder. Empty webhook or token disables it.
func NewForwarder(webhookURL, token string, logger *slog.Logger, opts ...Option) *Forwarder {
	loc, err := time.LoadLocation(civilTimezone)
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	f := &Forwarder{
		webhookURL: webhookURL,
		token:      token,
		httpClient: &http.Client{Timeout: forwardTimeout},
		logger:     logger,
		loc:        loc,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enabled reports whether forwarding is configured.
func (f *Forwarder) Enabled() bool {
	return f.webhookURL != "" && f.token != ""
}

// ForwardAsync fires the record from a detached goroutine so the caller's
// response never waits on, or fails with, the webhook.
func (f *Forwarder) ForwardAsync(rec Record) {
	if !f.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()
		f.Forward(ctx, rec)
	}()
}

// Forward sends one record. Errors are logged, never returned.
func (f *Forwarder) Forward(ctx context.Context, rec Record) {
	if !f.Enabled() {
		return
	}

	var req *http.Request
	var err error
	if isGoogleAppsScript(f.webhookURL) {
		target := f.webhookURL + "?t=" + url.QueryEscape(f.token)
		body := strings.NewReader(f.csvRow(rec))
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, body)
		if err == nil {
			req.Header.Set("Content-Type", "text/plain")
		}
	} else {
		var payload []byte
		payload, err = json.Marshal(rec)
		if err == nil {
			req, err = http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(payload))
		}
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-log-token", f.token)
		}
	}
	if err != nil {
		f.logger.Warn("audit log request build failed", slog.String("error", err.Error()))
		return
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("audit log forward failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		f.logger.Warn("audit log webhook rejected record",
			slog.Int("status", resp.StatusCode),
			slog.String("thread_id", rec.ThreadID),
		)
	}
}

// csvRow renders the record as one spreadsheet row:
// date,time,session,ip,ua,assistantId,threadId,runId,user,assistant.
func (f *Forwarder) csvRow(rec Record) string {
	now := f.now().In(f.loc)
	session := rec.Session
	if session == "" {
		session = "web"
	}
	fields := []string{
		now.Format("2006-01-02"),
		now.Format("15:04:05"),
		escapeCSV(session),
		escapeCSV(rec.IP),
		escapeCSV(rec.UserAgent),
		escapeCSV(rec.AssistantID),
		escapeCSV(rec.ThreadID),
		escapeCSV(rec.RunID),
		escapeCSV(rec.User),
		escapeCSV(rec.Assistant),
	}
	return strings.Join(fields, ",")
}

// escapeCSV flattens newlines and quotes fields containing a comma or quote,
// doubling embedded quotes per CSV convention.
func escapeCSV(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, `",`) {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func isGoogleAppsScript(webhookURL string) bool {
	return strings.Contains(webhookURL, "script.google.com/macros/s/")
}
