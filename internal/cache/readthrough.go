package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mugisham37/cms-gateway/internal/observability"
)

// Layer is the read-through cache used by the dispatcher. Concurrent
// misses for the same fingerprint collapse into a single computation; all
// callers receive its result.
type Layer struct {
	cache  Cache
	logger observability.Logger
	group  singleflight.Group
}

// NewLayer wraps a cache backend in the read-through layer.
func NewLayer(cache Cache, logger observability.Logger) *Layer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Layer{cache: cache, logger: logger}
}

// GetOrCompute returns the cached value for the fingerprint, or invokes
// compute at most once among concurrent callers and stores its result with
// the given TTL. The hit return reports whether the value came from the
// cache. A caller whose context ends while waiting gets the context error,
// but a computation that has already started runs to completion on a
// detached context and populates the cache for later callers.
func (l *Layer) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	ttl time.Duration,
	compute func(ctx context.Context) ([]byte, error),
) (value []byte, hit bool, err error) {
	cached, err := l.cache.Get(ctx, fingerprint)
	if err == nil {
		return cached, true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return nil, false, err
	}

	computeCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(fingerprint, func() (interface{}, error) {
		// Another flight may have populated the entry between our miss
		// and this call.
		if v, getErr := l.cache.Get(computeCtx, fingerprint); getErr == nil {
			return v, nil
		}

		v, computeErr := compute(computeCtx)
		if computeErr != nil {
			return nil, computeErr
		}

		if setErr := l.cache.Set(computeCtx, fingerprint, v, ttl); setErr != nil {
			l.logger.Warn("failed to store computed value in cache",
				observability.String("fingerprint", fingerprint),
				observability.Error(setErr))
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate removes the entry for a fingerprint. Takes effect for
// subsequent lookups immediately.
func (l *Layer) Invalidate(ctx context.Context, fingerprint string) error {
	l.group.Forget(fingerprint)
	return l.cache.Delete(ctx, fingerprint)
}

// Clear removes all entries.
func (l *Layer) Clear(ctx context.Context) error {
	return l.cache.Clear(ctx)
}
