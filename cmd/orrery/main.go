package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/AmoditYadav/amodit-space/internal/api"
	"github.com/AmoditYadav/amodit-space/internal/cache"
	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/config"
	"github.com/AmoditYadav/amodit-space/internal/httputil"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
	"github.com/AmoditYadav/amodit-space/internal/stream"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("ORRERY_CONFIG"), "optional config file (yaml, json or toml)")
	pflag.Parse()

	// Bootstrap logger for config loading; replaced once the level is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel("log.level", slog.LevelInfo),
	}))

	addr := cfg.String("http.addr", ":8080")

	authCfg, err := loadAuthConfig(cfg, logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	clock, err := loadClock(cfg, logger)
	if err != nil {
		logger.Error("invalid clock configuration", "error", err)
		os.Exit(1)
	}

	store := catalog.NewStore()
	catalogPath := cfg.String("catalog.path", "")
	remote, err := loadRemoteCatalog(cfg, logger)
	if err != nil {
		logger.Error("invalid catalog configuration", "error", err)
		os.Exit(1)
	}

	switch {
	case remote != nil:
		// Serve the last snapshot right away, then try the network.
		if ds, err := remote.snapshots.LoadLatest(); err != nil {
			logger.Info("no catalog snapshot found", "error", err)
		} else {
			store.Set(ds)
			logger.Info("loaded catalog snapshot", "source", ds.Source, "bodies", len(ds.Bodies))
		}
		syncCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		if err := catalog.Sync(syncCtx, remote.fetcher, remote.snapshots, store, logger); err != nil {
			logger.Warn("initial catalog fetch failed", "url", remote.fetcher.SourceURL(), "error", err)
		}
		cancel()
		if store.Get() == nil {
			store.Set(builtinDataset())
			logger.Warn("falling back to built-in catalog", "bodies", len(store.Get().Bodies))
		}
	case catalogPath != "":
		ds, err := catalog.Load(catalogPath)
		if err != nil {
			logger.Error("failed to load catalog", "path", catalogPath, "error", err)
			os.Exit(1)
		}
		store.Set(ds)
		logger.Info("loaded catalog", "path", catalogPath, "bodies", len(ds.Bodies))
	default:
		store.Set(builtinDataset())
		logger.Info("using built-in catalog", "bodies", len(store.Get().Bodies))
	}
	metrics.SetCatalogBodies(len(store.Get().Bodies))

	propCfg := loadPropConfig(cfg, logger)
	prop := propagation.NewPropagator(store, clock, propCfg, logger)
	metrics.SetPropagationWorkersActive(propCfg.Workers)

	cacheCfg := loadCacheConfig(cfg, logger, propCfg)
	kfCache := cache.NewKeyframeCache(cacheCfg, prop, store, logger)

	streamCfg := loadStreamConfig(cfg, logger)
	streamHandler := stream.NewHandler(kfCache, store, clock, streamCfg, logger)

	rateCfg := loadRateLimitConfig(cfg, logger)
	limiter := httputil.NewIPRateLimiter(rate.Limit(rateCfg.RPS), rateCfg.Burst)

	srv := api.NewServer(addr, logger, api.Deps{
		Store:      store,
		Clock:      clock,
		Propagator: prop,
		Cache:      kfCache,
		Stream:     streamHandler,
		Auth:       authCfg,
		RateLimit:  rateCfg,
		Limiter:    limiter,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start cache background worker.
	go kfCache.Start(ctx)

	if remote != nil {
		go catalog.Poll(ctx, remote.interval, remote.fetcher, remote.snapshots, store, logger)
	} else if catalogPath != "" && cfg.Bool("catalog.watch", true) {
		go func() {
			if err := catalog.Watch(ctx, catalogPath, store, logger); err != nil {
				logger.Error("catalog watcher stopped", "path", catalogPath, "error", err)
			}
		}()
	}

	// Background goroutine to update catalog age gauge and prune idle limiters.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetCatalogAge(age)
				}
				if n := limiter.Cleanup(10 * time.Minute); n > 0 {
					logger.Debug("pruned idle rate limiters", "removed", n, "remaining", limiter.Len())
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"auth_enabled", authCfg.Enabled,
			"rate_limit_enabled", rateCfg.Enabled,
			"catalog_source", store.Get().Source,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func builtinDataset() *catalog.Dataset {
	return &catalog.Dataset{
		Source:   "builtin",
		LoadedAt: time.Now().UTC(),
		Bodies:   catalog.DefaultBodies(),
	}
}
