// Package proxy forwards matched requests to their upstream targets.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mugisham37/cms-gateway/internal/observability"
	"github.com/mugisham37/cms-gateway/internal/route"
	"github.com/mugisham37/cms-gateway/internal/util"
)

// ForwardedByHeader marks every request the gateway forwards upstream.
const ForwardedByHeader = "X-Forwarded-By"

// forwardedByValue identifies this gateway in the marker header.
const forwardedByValue = "cms-gateway"

// DefaultTimeout is the upstream call budget when a route sets none.
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBody bounds how much of an upstream response is
// buffered. Larger responses are upstream errors, never truncated results.
const DefaultMaxResponseBody = 10 << 20 // 10MB

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// placeholderPattern matches ":name" placeholders in target URL templates.
var placeholderPattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Response is the normalized upstream result. Non-2xx statuses are valid
// results carried through verbatim.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Executor builds target URLs and issues upstream HTTP calls.
type Executor struct {
	client          *http.Client
	logger          observability.Logger
	metrics         *observability.Metrics
	defaultTimeout  time.Duration
	maxResponseBody int64
	breaker         *gobreaker.CircuitBreaker
}

// ExecutorOption is a functional option for the executor.
type ExecutorOption func(*Executor)

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.client = client
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger observability.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithExecutorMetrics sets the metrics.
func WithExecutorMetrics(metrics *observability.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithDefaultTimeout sets the timeout applied when a route configures none.
func WithDefaultTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.defaultTimeout = timeout
	}
}

// WithMaxResponseBody bounds how many upstream response bytes are buffered.
func WithMaxResponseBody(limit int64) ExecutorOption {
	return func(e *Executor) {
		e.maxResponseBody = limit
	}
}

// WithCircuitBreaker guards upstream calls with a circuit breaker. An open
// circuit surfaces as an upstream error without issuing the call.
func WithCircuitBreaker(name string, threshold uint32, timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: threshold,
			Interval:    timeout,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= threshold && failureRatio >= 0.5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				e.logger.Info("circuit breaker state change",
					observability.String("name", name),
					observability.String("from", from.String()),
					observability.String("to", to.String()))
			},
		}
		e.breaker = gobreaker.NewCircuitBreaker(settings)
	}
}

// NewExecutor creates a proxy executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:          &http.Client{},
		logger:          observability.NopLogger(),
		defaultTimeout:  DefaultTimeout,
		maxResponseBody: DefaultMaxResponseBody,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Forward builds the target URL for the route, merges headers and query
// parameters, issues the upstream call, and normalizes the result. Only
// transport-level failures produce errors; upstream statuses pass through.
// The executor never mutates the route.
func (e *Executor) Forward(
	ctx context.Context,
	rt *route.Route,
	params map[string]string,
	method string,
	headers http.Header,
	query url.Values,
	body []byte,
) (*Response, error) {
	targetURL, err := BuildTargetURL(rt.Target, params, query, rt.Config.QueryParams)
	if err != nil {
		return nil, err
	}

	timeout := rt.Config.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(callCtx, strings.ToUpper(method), targetURL, bodyReader)
	if err != nil {
		return nil, util.NewUpstreamError(targetURL, "invalid upstream request", err)
	}
	req.Header = mergeHeaders(headers, rt.Config.Headers)

	start := time.Now()
	resp, err := e.do(req)
	if e.metrics != nil {
		e.metrics.RecordUpstream(rt.ID, time.Since(start))
	}
	if err != nil {
		return nil, e.classify(rt, targetURL, timeout, err)
	}
	defer resp.Body.Close()

	// Read one byte past the limit so an oversized body is detected rather
	// than silently truncated under the upstream's Content-Length.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, e.maxResponseBody+1))
	if err != nil {
		return nil, e.classify(rt, targetURL, timeout, err)
	}
	if int64(len(respBody)) > e.maxResponseBody {
		if e.metrics != nil {
			e.metrics.RecordUpstreamError(rt.ID, "oversized")
		}
		return nil, util.NewUpstreamError(targetURL,
			fmt.Sprintf("response body exceeds %d bytes", e.maxResponseBody), nil)
	}

	e.logger.Debug("forwarded request",
		observability.String("route_id", rt.ID),
		observability.String("target", targetURL),
		observability.Int("status", resp.StatusCode))

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
		Body:    respBody,
	}, nil
}

// do issues the request, through the circuit breaker when one is configured.
func (e *Executor) do(req *http.Request) (*http.Response, error) {
	if e.breaker == nil {
		return e.client.Do(req)
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// classify maps a transport failure to the error taxonomy: deadline
// overruns are timeouts, everything else is a bad gateway.
func (e *Executor) classify(rt *route.Route, target string, timeout time.Duration, err error) error {
	if e.metrics != nil {
		reason := "transport"
		if isTimeout(err) {
			reason = "timeout"
		}
		e.metrics.RecordUpstreamError(rt.ID, reason)
	}

	if isTimeout(err) {
		return util.NewTimeoutError("upstream call to "+target, timeout)
	}
	return util.NewUpstreamError(target, "transport failure", err)
}

// isTimeout reports whether the error is a deadline overrun.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// BuildTargetURL substitutes ":name" placeholders in the target template
// from matched path parameters and merges query parameters: request
// parameters first, then route-level fixed parameters override same-named
// keys. An unmatched placeholder is a configuration error surfaced as an
// upstream error.
func BuildTargetURL(target string, params map[string]string, query url.Values, fixed map[string]string) (string, error) {
	var missing string
	substituted := placeholderPattern.ReplaceAllStringFunc(target, func(match string) string {
		name := match[1:]
		if value, ok := params[name]; ok {
			return url.PathEscape(value)
		}
		if missing == "" {
			missing = name
		}
		return match
	})
	if missing != "" {
		return "", util.NewUpstreamError(target,
			fmt.Sprintf("unresolved placeholder :%s in target", missing), nil)
	}

	parsed, err := url.Parse(substituted)
	if err != nil {
		return "", util.NewUpstreamError(target, "invalid target URL", err)
	}

	merged := parsed.Query()
	for key, values := range query {
		for _, v := range values {
			merged.Add(key, v)
		}
	}
	for key, value := range fixed {
		merged.Set(key, value)
	}
	parsed.RawQuery = merged.Encode()

	return parsed.String(), nil
}

// mergeHeaders copies forwarded request headers minus hop-by-hop ones,
// applies route-level fixed headers on top, and always sets the
// forwarded-by marker.
func mergeHeaders(headers http.Header, fixed map[string]string) http.Header {
	merged := make(http.Header, len(headers)+len(fixed)+1)
	for key, values := range headers {
		for _, v := range values {
			merged.Add(key, v)
		}
	}
	for _, h := range hopHeaders {
		merged.Del(h)
	}
	for key, value := range fixed {
		merged.Set(key, value)
	}
	merged.Set(ForwardedByHeader, forwardedByValue)
	return merged
}
