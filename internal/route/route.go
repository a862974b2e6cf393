// Package route provides the in-memory route table for the gateway: the
// Route model, pattern-based lookup with specificity ordering, and the
// reload machinery that mirrors the external route catalog.
package route

import (
	"strings"
	"time"
)

// Kind determines which execution branch the dispatcher applies to a
// matched route.
type Kind string

const (
	// KindProxy forwards the request to an upstream target.
	KindProxy Kind = "proxy"

	// KindRedirect returns a redirect to the substituted target URL.
	KindRedirect Kind = "redirect"

	// KindFunction runs the built-in responder that echoes matched path
	// parameters. No upstream call is made.
	KindFunction Kind = "function"
)

// MethodAll is the wildcard matching every HTTP method.
const MethodAll = "ALL"

// Config holds the per-route settings mirrored from the catalog.
type Config struct {
	// Headers are fixed headers applied on top of forwarded request headers.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// QueryParams are fixed query parameters that override same-named
	// request parameters.
	QueryParams map[string]string `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`

	// Timeout is the upstream call budget. Zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// CacheEnabled turns on read-through response caching for proxy routes.
	CacheEnabled bool `json:"cacheEnabled" yaml:"cacheEnabled"`

	// CacheTTL is the response cache TTL. Zero means the cache default.
	CacheTTL time.Duration `json:"cacheTTL,omitempty" yaml:"cacheTTL,omitempty"`

	// RateLimit describes the per-route rate limit, if any.
	RateLimit *RateLimit `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`

	// AuthRequired rejects requests without an authenticated principal.
	AuthRequired bool `json:"authRequired" yaml:"authRequired"`

	// RequiredRoles lists roles the principal must carry (any one suffices).
	RequiredRoles []string `json:"requiredRoles,omitempty" yaml:"requiredRoles,omitempty"`

	// RequestTransform is the expression applied to the request body.
	RequestTransform string `json:"requestTransform,omitempty" yaml:"requestTransform,omitempty"`

	// ResponseTransform is the expression applied to the response body.
	ResponseTransform string `json:"responseTransform,omitempty" yaml:"responseTransform,omitempty"`

	// Active routes participate in matching; inactive ones are skipped.
	Active bool `json:"active" yaml:"active"`
}

// RateLimit describes a per-route rate limit.
type RateLimit struct {
	// Requests is the number of requests allowed per Window.
	Requests int `json:"requests" yaml:"requests"`

	// Window is the accounting window.
	Window time.Duration `json:"window" yaml:"window"`

	// Burst is the maximum burst size.
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// Route is a routing rule mapping an inbound method+path pattern to an
// upstream action.
type Route struct {
	// ID is the opaque unique identifier.
	ID string `json:"id" yaml:"id"`

	// TenantID scopes the route to one tenant. Empty means global.
	TenantID string `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`

	// Methods is the set of HTTP methods, or the single wildcard "ALL".
	Methods []string `json:"methods" yaml:"methods"`

	// SourcePattern is the path template: literal segments, ":name"
	// parameters, and "*" wildcard segments.
	SourcePattern string `json:"sourcePattern" yaml:"sourcePattern"`

	// Target is the upstream URL template; ":name" placeholders are
	// substituted from matched path parameters.
	Target string `json:"target" yaml:"target"`

	// Kind selects the execution branch.
	Kind Kind `json:"kind" yaml:"kind"`

	// Config holds the structured per-route settings.
	Config Config `json:"config" yaml:"config"`

	// Version increments on every catalog write; it keys compiled
	// transformation invalidation.
	Version int64 `json:"version" yaml:"version"`

	// UpdatedAt is the catalog write timestamp.
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// MatchesMethod returns true if the route accepts the given HTTP method.
func (r *Route) MatchesMethod(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range r.Methods {
		if m == MethodAll || strings.ToUpper(m) == method {
			return true
		}
	}
	return false
}

// MatchesTenant returns true if the route is visible to the given tenant.
// Tenant-scoped routes match only their own tenant; global routes match all.
func (r *Route) MatchesTenant(tenantID string) bool {
	return r.TenantID == "" || r.TenantID == tenantID
}

// Clone returns a deep copy of the route so table snapshots never alias
// catalog-owned maps.
func (r *Route) Clone() *Route {
	clone := *r
	clone.Methods = append([]string(nil), r.Methods...)
	clone.Config.RequiredRoles = append([]string(nil), r.Config.RequiredRoles...)
	if r.Config.Headers != nil {
		clone.Config.Headers = make(map[string]string, len(r.Config.Headers))
		for k, v := range r.Config.Headers {
			clone.Config.Headers[k] = v
		}
	}
	if r.Config.QueryParams != nil {
		clone.Config.QueryParams = make(map[string]string, len(r.Config.QueryParams))
		for k, v := range r.Config.QueryParams {
			clone.Config.QueryParams[k] = v
		}
	}
	if r.Config.RateLimit != nil {
		rl := *r.Config.RateLimit
		clone.Config.RateLimit = &rl
	}
	return &clone
}
