package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayer(t *testing.T) *Layer {
	t.Helper()
	backend := NewMemoryCache()
	t.Cleanup(func() { _ = backend.Close() })
	return NewLayer(backend, nil)
}

func TestLayer_GetOrCompute_MissThenHit(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t)

	var calls int32
	compute := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("result"), nil
	}

	value, hit, err := layer.GetOrCompute(ctx, "fp", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []byte("result"), value)

	value, hit, err = layer.GetOrCompute(ctx, "fp", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("result"), value)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLayer_GetOrCompute_SingleFlight(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t)

	var calls int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("shared"), nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = layer.GetOrCompute(ctx, "fp", time.Minute, compute)
		}(i)
	}

	// Let every caller reach the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls),
		"concurrent identical requests must collapse to one computation")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i])
	}
}

func TestLayer_GetOrCompute_TTLRecompute(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t)

	var calls int32
	compute := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v"), nil
	}

	_, _, err := layer.GetOrCompute(ctx, "fp", 30*time.Millisecond, compute)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, hit, err := layer.GetOrCompute(ctx, "fp", 30*time.Millisecond, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls),
		"exactly one recomputation after expiry")
}

func TestLayer_GetOrCompute_ErrorNotCached(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t)

	var calls int32
	compute := func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("upstream down")
		}
		return []byte("recovered"), nil
	}

	_, _, err := layer.GetOrCompute(ctx, "fp", time.Minute, compute)
	require.Error(t, err)

	value, _, err := layer.GetOrCompute(ctx, "fp", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), value)
}

func TestLayer_GetOrCompute_CancelledCallerDoesNotAbortFlight(t *testing.T) {
	layer := newTestLayer(t)

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		close(started)
		<-release
		return []byte("late"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := layer.GetOrCompute(ctx, "fp", time.Minute, compute)
		done <- err
	}()

	<-started
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	// The abandoned computation still completes and populates the cache.
	close(release)
	require.Eventually(t, func() bool {
		value, hit, err := layer.GetOrCompute(context.Background(), "fp", time.Minute,
			func(context.Context) ([]byte, error) { return []byte("fresh"), nil })
		return err == nil && hit && string(value) == "late"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLayer_Invalidate(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t)

	var calls int32
	compute := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v"), nil
	}

	_, _, err := layer.GetOrCompute(ctx, "fp", time.Minute, compute)
	require.NoError(t, err)

	require.NoError(t, layer.Invalidate(ctx, "fp"))

	_, hit, err := layer.GetOrCompute(ctx, "fp", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLayer_Clear(t *testing.T) {
	ctx := context.Background()
	layer := newTestLayer(t)

	_, _, err := layer.GetOrCompute(ctx, "a", time.Minute,
		func(context.Context) ([]byte, error) { return []byte("1"), nil })
	require.NoError(t, err)

	require.NoError(t, layer.Clear(ctx))

	_, hit, err := layer.GetOrCompute(ctx, "a", time.Minute,
		func(context.Context) ([]byte, error) { return []byte("2"), nil })
	require.NoError(t, err)
	assert.False(t, hit)
}
