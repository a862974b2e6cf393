package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configRecorder collects watcher callbacks safely across goroutines.
type configRecorder struct {
	mu      sync.Mutex
	configs []*Config
	errs    []error
}

func (r *configRecorder) onConfig(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
}

func (r *configRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *configRecorder) configCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs)
}

func (r *configRecorder) lastAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return ""
	}
	return r.configs[len(r.configs)-1].Server.Addr
}

func (r *configRecorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func startTestWatcher(t *testing.T, path string, rec *configRecorder) *Watcher {
	t.Helper()

	w, err := NewWatcher(path, rec.onConfig,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(rec.onError))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := writeTempConfig(t, "server:\n  addr: \":9001\"\n")
	w := startTestWatcher(t, path, &configRecorder{})

	require.NotNil(t, w.LastConfig())
	assert.Equal(t, ":9001", w.LastConfig().Server.Addr)
}

func TestWatcher_Start_FailsOnInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, "log:\n  level: verbose\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_ReloadOnWrite(t *testing.T) {
	path := writeTempConfig(t, "server:\n  addr: \":9001\"\n")
	rec := &configRecorder{}
	w := startTestWatcher(t, path, rec)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9002\"\n"), 0o600))

	require.Eventually(t, func() bool {
		return rec.configCount() >= 1 && rec.lastAddr() == ":9002"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, ":9002", w.LastConfig().Server.Addr)
}

func TestWatcher_BadReloadKeepsLastConfig(t *testing.T) {
	path := writeTempConfig(t, "server:\n  addr: \":9001\"\n")
	rec := &configRecorder{}
	w := startTestWatcher(t, path, rec)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: verbose\n"), 0o600))

	require.Eventually(t, func() bool {
		return rec.errCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, rec.configCount(), "failed reloads never invoke the config callback")
	assert.Equal(t, ":9001", w.LastConfig().Server.Addr)
}

func TestWatcher_ForceReload(t *testing.T) {
	path := writeTempConfig(t, "server:\n  addr: \":9001\"\n")
	rec := &configRecorder{}
	w := startTestWatcher(t, path, rec)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9003\"\n"), 0o600))
	require.NoError(t, w.ForceReload())

	assert.Equal(t, ":9003", w.LastConfig().Server.Addr)
	assert.GreaterOrEqual(t, rec.configCount(), 1)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeTempConfig(t, "server:\n  addr: \":9001\"\n")
	w := startTestWatcher(t, path, &configRecorder{})

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
