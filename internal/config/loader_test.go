package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, `
server:
  addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	// Everything unset keeps its default.
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL.Duration())
	assert.Equal(t, 30*time.Second, cfg.Routes.ReloadInterval.Duration())
	assert.Equal(t, time.Second, cfg.Transform.Budget.Duration())
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTempConfig(t, `
server:
  addr: ":8081"
  readTimeout: 10s
  shutdownTimeout: 5s
log:
  level: debug
  format: console
cache:
  backend: redis
  redisAddr: localhost:6379
  defaultTTL: 5m
routes:
  reloadInterval: 1m
transform:
  budget: 500ms
proxy:
  defaultTimeout: 15s
  breakerThreshold: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL.Duration())
	assert.Equal(t, time.Minute, cfg.Routes.ReloadInterval.Duration())
	assert.Equal(t, 500*time.Millisecond, cfg.Transform.Budget.Duration())
	assert.Equal(t, uint32(5), cfg.Proxy.BreakerThreshold)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_GATEWAY_ADDR", ":7777")

	path := writeTempConfig(t, `
server:
  addr: "${TEST_GATEWAY_ADDR}"
log:
  level: ${TEST_GATEWAY_LEVEL:-warn}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level, "unset variable falls back to its default")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromReader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad log level", "log:\n  level: verbose\n", "log.level"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"bad cache backend", "cache:\n  backend: memcached\n", "cache.backend"},
		{"redis without addr", "cache:\n  backend: redis\n", "cache.redisAddr"},
		{"zero reload interval", "routes:\n  reloadInterval: 0s\n", "routes.reloadInterval"},
		{"zero transform budget", "transform:\n  budget: 0s\n", "transform.budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("server:\n  readTimeout: 1h30m\n"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Server.ReadTimeout.Duration())

	out, err := Duration(90 * time.Minute).MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", out)
}

func TestDuration_JSON(t *testing.T) {
	b, err := Duration(30 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"30s"`, string(b))

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"2m"`)))
	assert.Equal(t, 2*time.Minute, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, time.Duration(0), d.Duration())
}
