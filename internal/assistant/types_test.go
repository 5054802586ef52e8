package assistant

import (
	"encoding/json"
	"testing"
)

func TestRunStatusBuckets(t *testing.T) {
	tests := []struct {
		status     RunStatus
		pending    bool
		actionable bool
		failure    bool
	}{
		{StatusQueued, true, false, false},
		{StatusInProgress, true, false, false},
		{StatusRequiresAction, false, true, false},
		{StatusCompleted, false, true, false},
		{StatusFailed, false, false, true},
		{StatusCancelled, false, false, true},
		{StatusExpired, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Pending(); got != tt.pending {
				t.Errorf("Pending() = %v, want %v", got, tt.pending)
			}
			if got := tt.status.Actionable(); got != tt.actionable {
				t.Errorf("Actionable() = %v, want %v", got, tt.actionable)
			}
			if got := tt.status.Failure(); got != tt.failure {
				t.Errorf("Failure() = %v, want %v", got, tt.failure)
			}
			if got := tt.status.Terminal(); got != (tt.actionable || tt.failure) {
				t.Errorf("Terminal() = %v", got)
			}
		})
	}
}

func textMessage(role string, parts ...string) Message {
	m := Message{Role: role}
	for _, p := range parts {
		m.Content = append(m.Content, ContentPart{Type: "text", Text: &TextValue{Value: p}})
	}
	return m
}

func TestLatestAssistantReply(t *testing.T) {
	list := &MessageList{Data: []Message{
		textMessage("assistant", "newest ", "answer"),
		textMessage("user", "question"),
		textMessage("assistant", "older answer"),
	}}

	if got, want := list.LatestAssistantReply(), "newest \nanswer"; got != want {
		t.Errorf("LatestAssistantReply() = %q, want %q", got, want)
	}
}

func TestLatestAssistantReplyEmpty(t *testing.T) {
	list := &MessageList{Data: []Message{textMessage("user", "hello")}}
	if got := list.LatestAssistantReply(); got != "" {
		t.Errorf("LatestAssistantReply() = %q, want empty", got)
	}
}

func TestMessageTextSkipsNonTextParts(t *testing.T) {
	m := Message{
		Role: "assistant",
		Content: []ContentPart{
			{Type: "image_file"},
			{Type: "text", Text: &TextValue{Value: "  see the chart  "}},
		},
	}
	if got := m.Text(); got != "see the chart" {
		t.Errorf("Text() = %q", got)
	}
}

func TestTextDelta(t *testing.T) {
	ev := &RunEvent{
		Type: EventMessageDelta,
		Data: json.RawMessage(`{"id":"msg_1","delta":{"content":[{"index":0,"type":"text","text":{"value":"Hel"}},{"index":0,"type":"text","text":{"value":"lo"}}]}}`),
	}
	got, ok := ev.TextDelta()
	if !ok || got != "Hello" {
		t.Errorf("TextDelta() = %q, %v, want \"Hello\", true", got, ok)
	}
}

func TestTextDeltaNonText(t *testing.T) {
	ev := &RunEvent{
		Type: EventMessageDelta,
		Data: json.RawMessage(`{"id":"msg_1","delta":{"content":[{"index":0,"type":"image_file"}]}}`),
	}
	if _, ok := ev.TextDelta(); ok {
		t.Error("expected no text fragment for image delta")
	}
}

func TestRunEventRun(t *testing.T) {
	ev := &RunEvent{
		Type: EventRunCreated,
		Data: json.RawMessage(`{"id":"run_1","thread_id":"thread_1","status":"queued"}`),
	}
	run, err := ev.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if run.ID != "run_1" || run.ThreadID != "thread_1" || run.Status != StatusQueued {
		t.Errorf("unexpected run: %+v", run)
	}
}
