package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mugisham37/cms-gateway/internal/cache"
	"github.com/mugisham37/cms-gateway/internal/proxy"
	"github.com/mugisham37/cms-gateway/internal/route"
	"github.com/mugisham37/cms-gateway/internal/transform"
	"github.com/mugisham37/cms-gateway/internal/util"
)

// testGateway bundles a dispatcher with its components for tests.
type testGateway struct {
	table      *route.Table
	dispatcher *Dispatcher
}

func newTestGateway(t *testing.T, opts ...DispatcherOption) *testGateway {
	t.Helper()

	table := route.NewTable()
	engine, err := transform.NewEngine()
	require.NoError(t, err)

	backend := cache.NewMemoryCache()
	t.Cleanup(func() { _ = backend.Close() })

	dispatcher := NewDispatcher(table, engine, cache.NewLayer(backend, nil), proxy.NewExecutor(), opts...)
	return &testGateway{table: table, dispatcher: dispatcher}
}

func getRequest(path string) *Request {
	return &Request{Method: "GET", Path: path, Headers: http.Header{}}
}

func TestDispatcher_OrdersScenario(t *testing.T) {
	var upstreamCalls int32
	var lastPath atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamCalls, 1)
		lastPath.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order":"42","total":99.5}`))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "orders",
		Methods:       []string{"GET"},
		SourcePattern: "/api/orders/:id",
		Target:        upstream.URL + "/orders/:id",
		Kind:          route.KindProxy,
		Config: route.Config{
			Active:       true,
			CacheEnabled: true,
			CacheTTL:     300 * time.Second,
		},
	})

	first, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/orders/42"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, first.Status)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "/orders/42", lastPath.Load())
	assert.JSONEq(t, `{"order":"42","total":99.5}`, string(first.Body))

	second, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/orders/42"))
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstreamCalls),
		"second identical request is served from cache")

	// A different ID is a different fingerprint and goes back upstream.
	third, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/orders/43"))
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, "/orders/43", lastPath.Load())
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstreamCalls))
}

func TestDispatcher_SingleFlightUnderConcurrency(t *testing.T) {
	var upstreamCalls int32
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamCalls, 1)
		<-release
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "r1",
		Methods:       []string{"GET"},
		SourcePattern: "/api/data",
		Target:        upstream.URL + "/data",
		Kind:          route.KindProxy,
		Config:        route.Config{Active: true, CacheEnabled: true, CacheTTL: time.Minute},
	})

	const n = 10
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.dispatcher.Dispatch(context.Background(), getRequest("/api/data"))
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&upstreamCalls),
		"N concurrent identical requests collapse into one upstream call")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte(`{"ok":true}`), results[i].Body)
	}
}

func TestDispatcher_NoCacheCallsUpstreamEveryTime(t *testing.T) {
	var upstreamCalls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamCalls, 1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "r1",
		Methods:       []string{"GET"},
		SourcePattern: "/api/live",
		Target:        upstream.URL + "/live",
		Kind:          route.KindProxy,
		Config:        route.Config{Active: true},
	})

	for i := 0; i < 3; i++ {
		result, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/live"))
		require.NoError(t, err)
		assert.False(t, result.CacheHit)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&upstreamCalls))
}

func TestDispatcher_RouteNotFound(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.dispatcher.Dispatch(context.Background(), getRequest("/nowhere"))
	assert.ErrorIs(t, err, util.ErrRouteNotFound)
}

func TestDispatcher_FunctionRouteEchoesParams(t *testing.T) {
	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "fn",
		Methods:       []string{route.MethodAll},
		SourcePattern: "/fn/:name/:value",
		Kind:          route.KindFunction,
		Config:        route.Config{Active: true},
	})

	result, err := g.dispatcher.Dispatch(context.Background(), getRequest("/fn/color/blue"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "application/json", result.Headers.Get("Content-Type"))
	assert.JSONEq(t, `{"status":"success","data":{"name":"color","value":"blue"}}`, string(result.Body))
}

func TestDispatcher_RedirectRoute(t *testing.T) {
	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "rd",
		Methods:       []string{"GET"},
		SourcePattern: "/old/:id",
		Target:        "https://new.example.com/items/:id",
		Kind:          route.KindRedirect,
		Config:        route.Config{Active: true},
	})

	result, err := g.dispatcher.Dispatch(context.Background(), getRequest("/old/7"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, result.Status)
	assert.Equal(t, "https://new.example.com/items/7", result.Headers.Get("Location"))
	assert.Empty(t, result.Body)
}

func TestDispatcher_AuthRequired(t *testing.T) {
	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "secure",
		Methods:       []string{"GET"},
		SourcePattern: "/secure",
		Kind:          route.KindFunction,
		Config:        route.Config{Active: true, AuthRequired: true},
	})

	_, err := g.dispatcher.Dispatch(context.Background(), getRequest("/secure"))
	assert.ErrorIs(t, err, util.ErrUnauthorized)

	req := getRequest("/secure")
	req.Principal = &util.Principal{ID: "user-1"}
	_, err = g.dispatcher.Dispatch(context.Background(), req)
	assert.NoError(t, err)
}

func TestDispatcher_RequiredRoles(t *testing.T) {
	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "adminonly",
		Methods:       []string{"GET"},
		SourcePattern: "/adminonly",
		Kind:          route.KindFunction,
		Config:        route.Config{Active: true, RequiredRoles: []string{"admin", "operator"}},
	})

	req := getRequest("/adminonly")
	req.Principal = &util.Principal{ID: "user-1", Roles: []string{"viewer"}}
	_, err := g.dispatcher.Dispatch(context.Background(), req)
	assert.ErrorIs(t, err, util.ErrForbidden)

	req.Principal = &util.Principal{ID: "user-2", Roles: []string{"operator"}}
	_, err = g.dispatcher.Dispatch(context.Background(), req)
	assert.NoError(t, err, "any one required role suffices")
}

// rejectingLimiter always rejects.
type rejectingLimiter struct{}

func (rejectingLimiter) Allow(context.Context, string, *route.RateLimit) (bool, error) {
	return false, nil
}

func TestDispatcher_RateLimited(t *testing.T) {
	g := newTestGateway(t, WithRateLimiter(rejectingLimiter{}))
	g.table.Upsert(&route.Route{
		ID:            "limited",
		Methods:       []string{"GET"},
		SourcePattern: "/limited",
		Kind:          route.KindFunction,
		Config: route.Config{
			Active:    true,
			RateLimit: &route.RateLimit{Requests: 1, Window: time.Second},
		},
	})

	_, err := g.dispatcher.Dispatch(context.Background(), getRequest("/limited"))
	assert.ErrorIs(t, err, util.ErrRateLimited)
}

func TestDispatcher_RequestTransform(t *testing.T) {
	var received []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "tx",
		Methods:       []string{"POST"},
		SourcePattern: "/api/submit",
		Target:        upstream.URL + "/submit",
		Kind:          route.KindProxy,
		Version:       1,
		Config: route.Config{
			Active:           true,
			RequestTransform: `{"wrapped": payload}`,
		},
	})

	req := &Request{
		Method:  "POST",
		Path:    "/api/submit",
		Headers: http.Header{},
		Body:    []byte(`{"value":1}`),
	}
	_, err := g.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"wrapped":{"value":1}}`, string(received))
}

func TestDispatcher_ResponseTransform(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"internal_id":7,"name":"widget"}`))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "tx",
		Methods:       []string{"GET"},
		SourcePattern: "/api/widget",
		Target:        upstream.URL + "/widget",
		Kind:          route.KindProxy,
		Version:       1,
		Config: route.Config{
			Active:            true,
			ResponseTransform: `{"name": payload.name}`,
		},
	})

	result, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/widget"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"widget"}`, string(result.Body))
}

func TestDispatcher_ResponseTransform_SkipsNon2xx(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "tx",
		Methods:       []string{"GET"},
		SourcePattern: "/api/widget",
		Target:        upstream.URL + "/widget",
		Kind:          route.KindProxy,
		Version:       1,
		Config: route.Config{
			Active:            true,
			ResponseTransform: `{"name": payload.name}`,
		},
	})

	result, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/widget"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.Status)
	assert.Equal(t, []byte(`not json at all`), result.Body, "non-2xx bodies pass through verbatim")
}

func TestDispatcher_TransformFailureIsFatal(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"a":1}`))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "tx",
		Methods:       []string{"GET"},
		SourcePattern: "/api/widget",
		Target:        upstream.URL + "/widget",
		Kind:          route.KindProxy,
		Version:       1,
		Config: route.Config{
			Active:            true,
			ResponseTransform: `payload.nonexistent`,
		},
	})

	_, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/widget"))
	require.Error(t, err, "transform failures surface, never silently fall back")
	assert.ErrorIs(t, err, util.ErrTransform)
}

func TestDispatcher_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "dead",
		Methods:       []string{"GET"},
		SourcePattern: "/api/dead",
		Target:        target + "/x",
		Kind:          route.KindProxy,
		Config:        route.Config{Active: true},
	})

	_, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/dead"))
	assert.ErrorIs(t, err, util.ErrBadGateway)
}

func TestDispatcher_CachedErrorNotStored(t *testing.T) {
	var upstreamCalls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&upstreamCalls, 1) == 1 {
			// Simulate a transport-level failure by hijacking and closing.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
				}
			}
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer upstream.Close()

	g := newTestGateway(t)
	g.table.Upsert(&route.Route{
		ID:            "flaky",
		Methods:       []string{"GET"},
		SourcePattern: "/api/flaky",
		Target:        upstream.URL + "/x",
		Kind:          route.KindProxy,
		Config:        route.Config{Active: true, CacheEnabled: true, CacheTTL: time.Minute},
	})

	_, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/flaky"))
	require.Error(t, err)

	result, err := g.dispatcher.Dispatch(context.Background(), getRequest("/api/flaky"))
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), result.Body)
	assert.False(t, result.CacheHit, "failures are never cached")
}

func TestStatusFor_Taxonomy(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{util.NewRouteNotFoundError("GET", "/x"), http.StatusNotFound},
		{util.ErrUnauthorized, http.StatusUnauthorized},
		{util.ErrForbidden, http.StatusForbidden},
		{util.ErrRateLimited, http.StatusTooManyRequests},
		{util.NewUpstreamError("http://x", "refused", nil), http.StatusBadGateway},
		{util.NewTimeoutError("upstream", time.Second), http.StatusGatewayTimeout},
		{util.NewTransformError("r1", "request", "boom", nil), http.StatusInternalServerError},
		{util.NewTransformError("r1", "request", "slow", util.NewTimeoutError("transformation", time.Second)), http.StatusGatewayTimeout},
		{util.NewConflictError("/x", "GET", ""), http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "error: %v", tt.err)
	}
}
