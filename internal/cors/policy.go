// Package cors computes the cross-origin response headers granted to a
// browser origin from a configured allow-list.
package cors

import (
	"net/http"
	"strings"
)

const (
	allowMethods = "POST, OPTIONS"
	allowHeaders = "content-type,x-log-token"
)

// Policy grants origins from a fixed allow-list. An origin on the list is
// echoed back exactly; anything else falls back to the first configured
// origin, or the wildcard when nothing is configured.
type Policy struct {
	origins []string
}

// NewPolicy parses a comma-separated allow-list. Blank entries are dropped.
func NewPolicy(allowList string) *Policy {
	var origins []string
	for _, o := range strings.Split(allowList, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return &Policy{origins: origins}
}

// Grant returns the Access-Control-Allow-Origin value for a request origin.
func (p *Policy) Grant(origin string) string {
	for _, o := range p.origins {
		if o == origin {
			return origin
		}
	}
	if len(p.origins) > 0 {
		return p.origins[0]
	}
	return "*"
}

// Apply sets the cross-origin headers on a response. Every response carries
// them, errors included, so a browser fetch never fails on a missing CORS
// grant layered over the real outcome. Vary: Origin keeps shared caches from
// serving one origin's grant to another.
func (p *Policy) Apply(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", p.Grant(origin))
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Vary", "Origin")
}
