package assistant

import (
	"encoding/json"
	"strings"
)

// RunStatus is the remote service's run lifecycle vocabulary.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
)

// Pending reports whether the run is still executing and worth another poll.
func (s RunStatus) Pending() bool {
	return s == StatusQueued || s == StatusInProgress
}

// Actionable reports whether the run finished with output the caller can use.
func (s RunStatus) Actionable() bool {
	return s == StatusCompleted || s == StatusRequiresAction
}

// Failure reports whether the run ended without producing a usable reply.
func (s RunStatus) Failure() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusExpired
}

// Terminal reports whether the run has stopped, for better or worse.
func (s RunStatus) Terminal() bool {
	return s.Actionable() || s.Failure()
}

// Thread is a remote-held conversation record.
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Message is one immutable entry in a thread.
type Message struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	ThreadID  string            `json:"thread_id"`
	Role      string            `json:"role"`
	Content   []ContentPart     `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ContentPart is one segment of a message body. Only text segments carry a
// value the gateway cares about.
type ContentPart struct {
	Type string     `json:"type"`
	Text *TextValue `json:"text,omitempty"`
}

type TextValue struct {
	Value string `json:"value"`
}

// Text joins the message's text segments in order.
func (m *Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// Run is one assistant-generation attempt bound to a thread.
type Run struct {
	ID          string    `json:"id"`
	Object      string    `json:"object"`
	CreatedAt   int64     `json:"created_at"`
	ThreadID    string    `json:"thread_id"`
	AssistantID string    `json:"assistant_id"`
	Status      RunStatus `json:"status"`
}

// MessageList is the remote message listing, newest first.
type MessageList struct {
	Object  string    `json:"object"`
	Data    []Message `json:"data"`
	FirstID string    `json:"first_id"`
	LastID  string    `json:"last_id"`
	HasMore bool      `json:"has_more"`
}

// LatestAssistantReply returns the text of the most recent assistant-authored
// message, or the empty string when none exists yet.
func (l *MessageList) LatestAssistantReply() string {
	for i := range l.Data {
		if l.Data[i].Role == "assistant" {
			return l.Data[i].Text()
		}
	}
	return ""
}

// Run-event types emitted on a streamed run. The remote sends more than
// these; the gateway forwards deltas and lifecycle transitions and ignores
// the rest.
const (
	EventThreadCreated    = "thread.created"
	EventRunCreated       = "thread.run.created"
	EventRunCompleted     = "thread.run.completed"
	EventRunFailed        = "thread.run.failed"
	EventRunCancelled     = "thread.run.cancelled"
	EventRunExpired       = "thread.run.expired"
	EventMessageDelta     = "thread.message.delta"
	EventMessageCompleted = "thread.message.completed"
	EventDone             = "done"
)

// RunEvent is one server-sent event from a streamed run.
type RunEvent struct {
	Type string
	Data json.RawMessage
}

// Run decodes the event payload as a run object. Run lifecycle events
// (thread.run.*) carry the full run.
func (e *RunEvent) Run() (*Run, error) {
	var r Run
	if err := json.Unmarshal(e.Data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

type messageDelta struct {
	Delta struct {
		Content []ContentPart `json:"content"`
	} `json:"delta"`
}

// TextDelta extracts the incremental text fragment from a
// thread.message.delta event. The second return is false when the delta
// carries no text (tool calls, images).
func (e *RunEvent) TextDelta() (string, bool) {
	var d messageDelta
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return "", false
	}
	var b strings.Builder
	for _, c := range d.Delta.Content {
		if c.Text != nil {
			b.WriteString(c.Text.Value)
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// StreamResult wraps an event or error from a streamed run.
type StreamResult struct {
	Event *RunEvent
	Err   error
}
