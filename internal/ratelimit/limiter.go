// Package ratelimit provides the default per-route rate limiter for the
// gateway. Accounting is local token buckets; distributed accounting is an
// external concern behind the same interface.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mugisham37/cms-gateway/internal/observability"
	"github.com/mugisham37/cms-gateway/internal/route"
)

// Ensure TokenBucketLimiter implements io.Closer for resource cleanup.
var _ io.Closer = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter keeps one token bucket per key. Buckets refill at the
// route's configured rate; stale buckets are reaped by a background janitor.
type TokenBucketLimiter struct {
	logger observability.Logger

	mu      sync.Mutex
	buckets map[string]*bucket

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// bucket pairs a limiter with its last use for janitor eviction.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter creates a limiter and starts its janitor.
func NewTokenBucketLimiter(logger observability.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	l := &TokenBucketLimiter{
		logger:          logger,
		buckets:         make(map[string]*bucket),
		cleanupInterval: 5 * time.Minute,
		bucketTTL:       10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Allow reports whether one request under the given key and limit may
// proceed. A nil or zero limit always allows.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string, limit *route.RateLimit) (bool, error) {
	if limit == nil || limit.Requests <= 0 || limit.Window <= 0 {
		return true, nil
	}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		perSecond := float64(limit.Requests) / limit.Window.Seconds()
		burst := limit.Burst
		if burst <= 0 {
			burst = limit.Requests
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow(), nil
}

// Reset drops the bucket for a key.
func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Close stops the janitor.
func (l *TokenBucketLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// cleanupLoop reaps buckets unused for longer than the bucket TTL.
func (l *TokenBucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes stale buckets.
func (l *TokenBucketLimiter) cleanup() {
	cutoff := time.Now().Add(-l.bucketTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("rate limiter cleanup completed",
			observability.Int("removed", removed))
	}
}
