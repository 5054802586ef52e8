package cors

import (
	"net/http"
	"testing"
)

func TestGrant(t *testing.T) {
	tests := []struct {
		name      string
		allowList string
		origin    string
		want      string
	}{
		{"listed origin echoed", "https://a.example,https://b.example", "https://b.example", "https://b.example"},
		{"unlisted falls back to first", "https://a.example,https://b.example", "https://evil.example", "https://a.example"},
		{"empty origin falls back to first", "https://a.example", "", "https://a.example"},
		{"no configuration yields wildcard", "", "https://a.example", "*"},
		{"whitespace entries trimmed", " https://a.example , https://b.example ", "https://b.example", "https://b.example"},
		{"blank entries dropped", ",,https://a.example", "https://x.example", "https://a.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(tt.allowList)
			if got := p.Grant(tt.origin); got != tt.want {
				t.Errorf("Grant(%q) = %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}

func TestGrantNeverInventsOrigins(t *testing.T) {
	p := NewPolicy("https://a.example,https://b.example")
	for _, origin := range []string{"https://c.example", "https://a.example.evil", ""} {
		got := p.Grant(origin)
		if got != "https://a.example" {
			t.Errorf("Grant(%q) = %q, want the first configured origin", origin, got)
		}
	}
}

func TestApply(t *testing.T) {
	p := NewPolicy("https://a.example")
	h := make(http.Header)
	p.Apply(h, "https://a.example")

	want := map[string]string{
		"Access-Control-Allow-Origin":      "https://a.example",
		"Access-Control-Allow-Methods":     "POST, OPTIONS",
		"Access-Control-Allow-Headers":     "content-type,x-log-token",
		"Access-Control-Allow-Credentials": "true",
		"Vary":                             "Origin",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
