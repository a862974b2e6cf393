package route

import (
	"context"
	"sync"
	"time"

	"github.com/mugisham37/cms-gateway/internal/observability"
)

// Invalidator receives route change notifications so derived caches
// (compiled transformations, response cache entries) can be dropped.
type Invalidator interface {
	InvalidateRoute(routeID string)
}

// InvalidatorFunc adapts a function to the Invalidator interface.
type InvalidatorFunc func(routeID string)

// InvalidateRoute implements Invalidator.
func (f InvalidatorFunc) InvalidateRoute(routeID string) {
	f(routeID)
}

// Reloader mirrors the route catalog into the table, on demand after
// administrative writes and on a periodic timer as a consistency backstop.
// A failed reload keeps the previous table authoritative.
type Reloader struct {
	table    *Table
	store    Store
	logger   observability.Logger
	interval time.Duration

	mu           sync.Mutex
	lastVersions map[string]int64
	invalidators []Invalidator
}

// ReloaderOption is a functional option for the reloader.
type ReloaderOption func(*Reloader)

// WithReloadInterval sets the periodic reload interval.
func WithReloadInterval(interval time.Duration) ReloaderOption {
	return func(r *Reloader) {
		r.interval = interval
	}
}

// WithReloaderLogger sets the logger.
func WithReloaderLogger(logger observability.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithInvalidator registers a route change listener.
func WithInvalidator(inv Invalidator) ReloaderOption {
	return func(r *Reloader) {
		r.invalidators = append(r.invalidators, inv)
	}
}

// NewReloader creates a reloader for the given table and store.
func NewReloader(table *Table, store Store, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		table:        table,
		store:        store,
		logger:       observability.NopLogger(),
		interval:     30 * time.Second,
		lastVersions: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload loads the catalog into the table. Changed or deleted routes are
// reported to registered invalidators after the table swap so no caller can
// observe a stale compiled artifact for a route the new table serves.
func (r *Reloader) Reload(ctx context.Context) error {
	routes, err := r.store.List(ctx)
	if err != nil {
		r.logger.Error("route reload failed, keeping previous table",
			observability.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.table.Load(routes)

	versions := make(map[string]int64, len(routes))
	var changed []string
	for _, rt := range routes {
		versions[rt.ID] = rt.Version
		if prev, ok := r.lastVersions[rt.ID]; !ok || prev != rt.Version {
			changed = append(changed, rt.ID)
		}
	}
	for id := range r.lastVersions {
		if _, ok := versions[id]; !ok {
			changed = append(changed, id)
		}
	}
	r.lastVersions = versions

	for _, id := range changed {
		for _, inv := range r.invalidators {
			inv.InvalidateRoute(id)
		}
	}

	r.logger.Info("route table reloaded",
		observability.Int("routes", len(routes)),
		observability.Int("changed", len(changed)))

	return nil
}

// Run reloads on the configured interval until the context is cancelled.
// Runs on its own goroutine; never blocks request handling.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Reload already logs failures; the previous table stays live.
			_ = r.Reload(ctx)
		case <-ctx.Done():
			return
		}
	}
}
