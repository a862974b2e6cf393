// Package main is the entry point for the CMS gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mugisham37/cms-gateway/internal/cache"
	"github.com/mugisham37/cms-gateway/internal/config"
	"github.com/mugisham37/cms-gateway/internal/gateway"
	"github.com/mugisham37/cms-gateway/internal/observability"
	"github.com/mugisham37/cms-gateway/internal/proxy"
	"github.com/mugisham37/cms-gateway/internal/ratelimit"
	"github.com/mugisham37/cms-gateway/internal/route"
	"github.com/mugisham37/cms-gateway/internal/signer"
	"github.com/mugisham37/cms-gateway/internal/transform"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting cms-gateway",
		observability.String("version", version),
		observability.String("build_time", buildTime),
		observability.String("git_commit", gitCommit),
		observability.String("config", flags.configPath))

	if err := run(cfg, flags.configPath, logger); err != nil {
		logger.Error("gateway exited with error", observability.Error(err))
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("cms-gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// run wires the components and serves until a shutdown signal arrives.
func run(cfg *config.Config, configPath string, logger observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("gateway")

	backend, err := buildCacheBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	cacheLayer := cache.NewLayer(backend, logger)

	transforms, err := transform.NewEngine(
		transform.WithBudget(cfg.Transform.Budget.Duration()),
		transform.WithEngineLogger(logger),
	)
	if err != nil {
		return err
	}

	executorOpts := []proxy.ExecutorOption{
		proxy.WithExecutorLogger(logger),
		proxy.WithExecutorMetrics(metrics),
		proxy.WithDefaultTimeout(cfg.Proxy.DefaultTimeout.Duration()),
	}
	if cfg.Proxy.BreakerThreshold > 0 {
		executorOpts = append(executorOpts,
			proxy.WithCircuitBreaker("upstream", cfg.Proxy.BreakerThreshold, cfg.Proxy.BreakerTimeout.Duration()))
	}
	executor := proxy.NewExecutor(executorOpts...)

	store := route.NewMemoryStore()
	table := route.NewTable()
	reloader := route.NewReloader(table, store,
		route.WithReloadInterval(cfg.Routes.ReloadInterval.Duration()),
		route.WithReloaderLogger(logger),
		route.WithInvalidator(transforms),
		route.WithInvalidator(route.InvalidatorFunc(func(string) {
			// Fingerprints are opaque hashes, so a route change clears the
			// whole response cache rather than a per-route subset.
			if err := cacheLayer.Clear(context.Background()); err != nil {
				logger.Warn("failed to clear response cache", observability.Error(err))
			}
		})),
	)
	if err := reloader.Reload(ctx); err != nil {
		return err
	}
	go reloader.Run(ctx)

	limiter := ratelimit.NewTokenBucketLimiter(logger)
	defer func() { _ = limiter.Close() }()

	keys := signer.NewMemoryStore()
	sig := signer.NewSigner(keys, logger)

	dispatcher := gateway.NewDispatcher(table, transforms, cacheLayer, executor,
		gateway.WithRateLimiter(limiter),
		gateway.WithDispatcherLogger(logger),
		gateway.WithDispatcherMetrics(metrics),
		gateway.WithDefaultCacheTTL(cfg.Cache.DefaultTTL.Duration()),
	)

	admin := gateway.NewAdmin(store, reloader, cacheLayer, sig, logger)

	serverOpts := []gateway.ServerOption{
		gateway.WithServerLogger(logger),
		gateway.WithPrincipalFunc(gateway.APIKeyPrincipal(sig)),
	}
	if cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, gateway.WithServerMetrics(metrics, cfg.Metrics.Path))
	}
	server := gateway.NewServer(cfg.Server, dispatcher, admin, serverOpts...)

	// Hot reload of gateway settings: the transformation budget applies
	// immediately; server and cache backend settings take effect on restart.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		transforms.SetBudget(next.Transform.Budget.Duration())
		logger.Info("configuration reloaded",
			observability.Duration("transform_budget", next.Transform.Budget.Duration()))
	}, config.WithWatcherLogger(logger))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	if err := server.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logger.Info("shutdown signal received", observability.String("signal", s.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}

// buildCacheBackend constructs the configured response cache backend.
func buildCacheBackend(ctx context.Context, cfg *config.Config, logger observability.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:       cfg.Cache.RedisAddr,
			Password:   cfg.Cache.RedisPassword,
			DB:         cfg.Cache.RedisDB,
			KeyPrefix:  cfg.Cache.KeyPrefix,
			DefaultTTL: cfg.Cache.DefaultTTL.Duration(),
		}, logger)
	default:
		return cache.NewMemoryCache(
			cache.WithMaxEntries(cfg.Cache.MaxEntries),
			cache.WithDefaultTTL(cfg.Cache.DefaultTTL.Duration()),
			cache.WithMemoryLogger(logger),
		), nil
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
