// Package config provides configuration management for the gateway.
// Configuration is loaded from YAML files with environment variable
// substitution, validated, and optionally watched for changes.
package config

import (
	"fmt"
	"time"
)

// Valid cache backend names.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all configuration settings for the gateway.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Routes    RoutesConfig    `json:"routes" yaml:"routes"`
	Transform TransformConfig `json:"transform" yaml:"transform"`
	Proxy     ProxyConfig     `json:"proxy" yaml:"proxy"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`
	ReadTimeout     Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    Duration `json:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout     Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json, console
	Output string `json:"output" yaml:"output"` // stdout, stderr, file path
}

// CacheConfig selects and configures the response cache backend.
type CacheConfig struct {
	Backend    string   `json:"backend" yaml:"backend"` // memory, redis
	DefaultTTL Duration `json:"defaultTTL" yaml:"defaultTTL"`

	// Memory backend settings.
	MaxEntries int `json:"maxEntries" yaml:"maxEntries"`

	// Redis backend settings.
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB"`
	KeyPrefix     string `json:"keyPrefix" yaml:"keyPrefix"`
}

// RoutesConfig holds route table reload settings.
type RoutesConfig struct {
	ReloadInterval Duration `json:"reloadInterval" yaml:"reloadInterval"`
}

// TransformConfig holds transformation engine settings.
type TransformConfig struct {
	Budget Duration `json:"budget" yaml:"budget"`
}

// ProxyConfig holds upstream call settings.
type ProxyConfig struct {
	DefaultTimeout Duration `json:"defaultTimeout" yaml:"defaultTimeout"`

	// Circuit breaker settings. Zero threshold disables the breaker.
	BreakerThreshold uint32   `json:"breakerThreshold" yaml:"breakerThreshold"`
	BreakerTimeout   Duration `json:"breakerTimeout" yaml:"breakerTimeout"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cache: CacheConfig{
			Backend:    CacheBackendMemory,
			DefaultTTL: Duration(time.Minute),
			MaxEntries: 10000,
			KeyPrefix:  "gateway:cache:",
		},
		Routes: RoutesConfig{
			ReloadInterval: Duration(30 * time.Second),
		},
		Transform: TransformConfig{
			Budget: Duration(time.Second),
		},
		Proxy: ProxyConfig{
			DefaultTimeout: Duration(30 * time.Second),
			BreakerTimeout: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for invalid settings.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error: %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console: %q", c.Log.Format)
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache.maxEntries must be positive for the memory backend")
		}
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redisAddr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis: %q", c.Cache.Backend)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.defaultTTL must be positive")
	}

	if c.Routes.ReloadInterval <= 0 {
		return fmt.Errorf("routes.reloadInterval must be positive")
	}
	if c.Transform.Budget <= 0 {
		return fmt.Errorf("transform.budget must be positive")
	}
	if c.Proxy.DefaultTimeout <= 0 {
		return fmt.Errorf("proxy.defaultTimeout must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path must be set when metrics are enabled")
	}

	return nil
}
