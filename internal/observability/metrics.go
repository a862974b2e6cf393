package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the gateway. Instances are
// constructed explicitly so independent gateways (and tests) do not share
// collector state through the default registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
}

// NewMetrics creates gateway metrics registered on a private registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of gateway requests by route and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Gateway request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of response cache hits.",
		}, []string{"route"}),
		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of response cache misses.",
		}, []string{"route"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of upstream transport failures.",
		}, []string{"route", "reason"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.upstreamDuration,
		m.upstreamErrors,
	)

	return m
}

// RecordRequest records a completed gateway request.
func (m *Metrics) RecordRequest(route, method, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, method, status).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordCacheHit records a response cache hit for a route.
func (m *Metrics) RecordCacheHit(route string) {
	m.cacheHitsTotal.WithLabelValues(route).Inc()
}

// RecordCacheMiss records a response cache miss for a route.
func (m *Metrics) RecordCacheMiss(route string) {
	m.cacheMissesTotal.WithLabelValues(route).Inc()
}

// RecordUpstream records the duration of a forwarded upstream call.
func (m *Metrics) RecordUpstream(route string, duration time.Duration) {
	m.upstreamDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordUpstreamError records an upstream transport failure.
func (m *Metrics) RecordUpstreamError(route, reason string) {
	m.upstreamErrors.WithLabelValues(route, reason).Inc()
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
