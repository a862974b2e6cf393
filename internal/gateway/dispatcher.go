// Package gateway wires route resolution, authorization, caching,
// transformation, and proxying into the per-request pipeline, and exposes
// the HTTP traffic and administrative surfaces.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/mugisham37/cms-gateway/internal/cache"
	"github.com/mugisham37/cms-gateway/internal/observability"
	"github.com/mugisham37/cms-gateway/internal/proxy"
	"github.com/mugisham37/cms-gateway/internal/route"
	"github.com/mugisham37/cms-gateway/internal/transform"
	"github.com/mugisham37/cms-gateway/internal/util"
)

// Request is the normalized inbound request handed to the dispatcher.
type Request struct {
	Method    string
	Path      string
	TenantID  string
	Principal *util.Principal
	Headers   http.Header
	Query     url.Values
	Body      []byte
}

// Result is the terminal outcome of a dispatched request. The dispatcher
// produces exactly one Result or one error per request, never both.
type Result struct {
	Status   int
	Headers  http.Header
	Body     []byte
	RouteID  string
	CacheHit bool
}

// Dispatcher runs the request pipeline: resolve, authorize, cache check,
// execute, transform, respond.
type Dispatcher struct {
	table      *route.Table
	transforms *transform.Engine
	cache      *cache.Layer
	executor   *proxy.Executor

	authorizer      Authorizer
	limiter         RateLimiter
	logger          observability.Logger
	metrics         *observability.Metrics
	defaultCacheTTL time.Duration
}

// DispatcherOption is a functional option for the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAuthorizer replaces the default role authorizer.
func WithAuthorizer(a Authorizer) DispatcherOption {
	return func(d *Dispatcher) {
		d.authorizer = a
	}
}

// WithRateLimiter sets the rate-limit accounting check.
func WithRateLimiter(l RateLimiter) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = l
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics.
func WithDispatcherMetrics(metrics *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithDefaultCacheTTL sets the TTL used when a cached route sets none.
func WithDefaultCacheTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.defaultCacheTTL = ttl
	}
}

// NewDispatcher creates a dispatcher over the given components.
func NewDispatcher(
	table *route.Table,
	transforms *transform.Engine,
	cacheLayer *cache.Layer,
	executor *proxy.Executor,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		table:           table,
		transforms:      transforms,
		cache:           cacheLayer,
		executor:        executor,
		authorizer:      RoleAuthorizer{},
		limiter:         allowAllLimiter{},
		logger:          observability.NopLogger(),
		defaultCacheTTL: time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the pipeline for one request.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	rt, params, err := d.table.Resolve(req.Path, req.Method, req.TenantID)
	if err != nil {
		return nil, err
	}

	if err := d.authorize(ctx, req, rt); err != nil {
		return nil, err
	}

	switch rt.Kind {
	case route.KindRedirect:
		return d.redirect(rt, params, req)
	case route.KindFunction:
		return d.respond(rt, params)
	default:
		return d.executeProxy(ctx, rt, params, req)
	}
}

// authorize runs the rate-limit and role checks for a matched route.
func (d *Dispatcher) authorize(ctx context.Context, req *Request, rt *route.Route) error {
	if rt.Config.RateLimit != nil {
		key := rt.ID + "|" + req.TenantID
		allowed, err := d.limiter.Allow(ctx, key, rt.Config.RateLimit)
		if err != nil {
			return err
		}
		if !allowed {
			return util.ErrRateLimited
		}
	}

	return d.authorizer.Authorize(ctx, req.Principal, rt)
}

// redirect builds the substituted target URL and returns a redirect
// instruction without calling upstream.
func (d *Dispatcher) redirect(rt *route.Route, params map[string]string, req *Request) (*Result, error) {
	target, err := proxy.BuildTargetURL(rt.Target, params, req.Query, rt.Config.QueryParams)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header, 1)
	headers.Set("Location", target)
	return &Result{
		Status:  http.StatusFound,
		Headers: headers,
		RouteID: rt.ID,
	}, nil
}

// respond runs the built-in responder for function routes: a fixed success
// envelope echoing the matched path parameters.
func (d *Dispatcher) respond(rt *route.Route, params map[string]string) (*Result, error) {
	if params == nil {
		params = map[string]string{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"status": "success",
		"data":   params,
	})
	if err != nil {
		return nil, err
	}

	headers := make(http.Header, 1)
	headers.Set("Content-Type", "application/json")
	return &Result{
		Status:  http.StatusOK,
		Headers: headers,
		Body:    body,
		RouteID: rt.ID,
	}, nil
}

// cachedResponse is the cache representation of a proxied result.
type cachedResponse struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// executeProxy forwards the request upstream, applying transformations and
// the read-through cache when the route enables it.
func (d *Dispatcher) executeProxy(ctx context.Context, rt *route.Route, params map[string]string, req *Request) (*Result, error) {
	compute := func(ctx context.Context) ([]byte, error) {
		resp, err := d.callUpstream(ctx, rt, params, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cachedResponse{
			Status:  resp.Status,
			Headers: resp.Headers,
			Body:    resp.Body,
		})
	}

	if !rt.Config.CacheEnabled {
		resp, err := d.callUpstream(ctx, rt, params, req)
		if err != nil {
			return nil, err
		}
		return &Result{
			Status:  resp.Status,
			Headers: resp.Headers,
			Body:    resp.Body,
			RouteID: rt.ID,
		}, nil
	}

	fingerprint := cache.Fingerprint(rt.ID, req.Method, req.Path, req.Query, req.Body)
	ttl := rt.Config.CacheTTL
	if ttl <= 0 {
		ttl = d.defaultCacheTTL
	}

	raw, hit, err := d.cache.GetOrCompute(ctx, fingerprint, ttl, compute)
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		if hit {
			d.metrics.RecordCacheHit(rt.ID)
		} else {
			d.metrics.RecordCacheMiss(rt.ID)
		}
	}

	var stored cachedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, util.WrapError(err, "corrupt cache entry")
	}

	return &Result{
		Status:   stored.Status,
		Headers:  stored.Headers,
		Body:     stored.Body,
		RouteID:  rt.ID,
		CacheHit: hit,
	}, nil
}

// callUpstream applies the request transformation, forwards the call, and
// applies the response transformation. Non-2xx upstream responses pass
// through untransformed.
func (d *Dispatcher) callUpstream(ctx context.Context, rt *route.Route, params map[string]string, req *Request) (*proxy.Response, error) {
	body := req.Body
	if rt.Config.RequestTransform != "" && len(body) > 0 {
		transformed, err := d.transformBody(ctx, rt, transform.DirectionRequest, rt.Config.RequestTransform, body)
		if err != nil {
			return nil, err
		}
		body = transformed
	}

	resp, err := d.executor.Forward(ctx, rt, params, req.Method, req.Headers, req.Query, body)
	if err != nil {
		return nil, err
	}

	if rt.Config.ResponseTransform != "" && len(resp.Body) > 0 && resp.Status >= 200 && resp.Status < 300 {
		transformed, err := d.transformBody(ctx, rt, transform.DirectionResponse, rt.Config.ResponseTransform, resp.Body)
		if err != nil {
			return nil, err
		}
		resp.Body = transformed
		// The transformed body has a new length.
		resp.Headers.Del("Content-Length")
	}

	return resp, nil
}

// transformBody decodes the JSON payload, applies the route's compiled
// transformation, and re-encodes the result.
func (d *Dispatcher) transformBody(
	ctx context.Context,
	rt *route.Route,
	direction transform.Direction,
	source string,
	body []byte,
) ([]byte, error) {
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, util.NewTransformError(rt.ID, string(direction), "payload is not valid JSON", err)
	}

	result, err := d.transforms.Apply(ctx, rt.ID, direction, source, rt.Version, payload)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, util.NewTransformError(rt.ID, string(direction), "result is not JSON-encodable", err)
	}
	return encoded, nil
}
