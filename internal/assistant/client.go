// Package assistant is a thin typed facade over the remote assistant
// service's thread/run/message API. Each operation is a single outbound
// call; retries belong to the orchestration layer, not here.
package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// betaHeader pins the protocol revision of the thread/run API.
	betaHeader = "assistants=v2"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client calls the remote assistant service.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a remote assistant client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateThread creates a fresh conversation thread. Metadata (submitter
// email, session tag) travels with the thread for later attribution.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]string) (*Thread, error) {
	payload := map[string]any{}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	var t Thread
	if err := c.do(ctx, http.MethodPost, "/threads", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateMessage appends a message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, text string, metadata map[string]string) (*Message, error) {
	payload := map[string]any{
		"role":    role,
		"content": text,
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	var m Message
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateRun starts a new run on a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	payload := map[string]any{"assistant_id": assistantID}
	var r Run
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun retrieves the current status of a run. Idempotent, safe to poll.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var r Run
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListMessages lists a thread's messages, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) (*MessageList, error) {
	var l MessageList
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if apiErr := ParseErrorResponse(resp.StatusCode, respBody); apiErr != nil {
			return apiErr
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// StreamRun starts a run with streaming enabled and returns a channel of
// run events. The channel is closed when the remote stream ends, errors, or
// ctx is cancelled; cancelling ctx is how a caller releases the stream.
func (c *Client) StreamRun(ctx context.Context, threadID, assistantID string) (<-chan StreamResult, error) {
	payload := map[string]any{
		"assistant_id": assistantID,
		"stream":       true,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/threads/"+threadID+"/runs", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		if apiErr := ParseErrorResponse(resp.StatusCode, respBody); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	out := make(chan StreamResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Room for large delta batches
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var currentEvent string
	var currentData strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Blank line terminates one event
		if line == "" {
			if currentEvent != "" {
				ev := &RunEvent{Type: currentEvent}
				if data := currentData.String(); data != "" && data != "[DONE]" {
					ev.Data = json.RawMessage(data)
				}
				select {
				case out <- StreamResult{Event: ev}:
				case <-ctx.Done():
					return
				}
				if currentEvent == EventDone {
					return
				}
			}
			currentEvent = ""
			currentData.Reset()
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			currentData.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case out <- StreamResult{Err: fmt.Errorf("stream read error: %w", err)}:
		case <-ctx.Done():
		}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", betaHeader)
	req.Header.Set("User-Agent", "assist-gateway/1.0")
}
