package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/auth"
	"github.com/AmoditYadav/amodit-space/internal/cache"
	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/config"
	"github.com/AmoditYadav/amodit-space/internal/httputil"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
	"github.com/AmoditYadav/amodit-space/internal/simclock"
	"github.com/AmoditYadav/amodit-space/internal/stream"
)

func loadAuthConfig(cfg *config.Config, logger *slog.Logger) (auth.Config, error) {
	out := auth.Config{}

	enabled, err := cfg.BoolStrict("auth.enabled", false)
	if err != nil {
		return out, err
	}
	out.Enabled = enabled

	if out.Enabled {
		out.Token = cfg.String("auth.token", "")
		if out.Token == "" {
			return out, errors.New(config.EnvName("auth.token") + " is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return out, nil
}

// loadClock builds the simulation clock from a named profile. The epoch
// defaults to process start; pinning it makes every replica agree on sim time.
func loadClock(cfg *config.Config, logger *slog.Logger) (*simclock.Clock, error) {
	profile, err := simclock.LookupProfile(cfg.String("clock.profile", simclock.ProfileDesktop))
	if err != nil {
		return nil, err
	}

	epoch := time.Now().UTC()
	if v := cfg.String("clock.epoch", ""); v != "" {
		epoch, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%s must be RFC3339: %w", config.EnvName("clock.epoch"), err)
		}
	}

	clock := simclock.New(profile, epoch)
	if r := cfg.PositiveFloat("clock.rate", 0); r > 0 && !clock.Frozen {
		clock.Rate = r
	}

	logger.Info("clock config",
		"profile", profile.Name,
		"epoch", clock.Epoch.Format(time.RFC3339),
		"rate", clock.Rate,
		"frozen", clock.Frozen,
	)

	return clock, nil
}

func loadPropConfig(cfg *config.Config, logger *slog.Logger) propagation.PropConfig {
	out := propagation.PropConfig{
		Workers: cfg.PositiveInt("prop.workers", runtime.NumCPU()),
		Step:    cfg.Seconds("keyframe.step", 1*time.Second),
		Horizon: cfg.Seconds("keyframe.horizon", 120*time.Second),
	}

	logger.Info("propagation config",
		"workers", out.Workers,
		"step_seconds", out.Step.Seconds(),
		"horizon_seconds", out.Horizon.Seconds(),
	)

	return out
}

func loadCacheConfig(cfg *config.Config, logger *slog.Logger, propCfg propagation.PropConfig) cache.Config {
	out := cache.Config{
		Step:        cfg.Seconds("cache.step", propCfg.Step),
		Horizon:     cfg.Seconds("cache.horizon", propCfg.Horizon),
		GracePeriod: cfg.Seconds("cache.grace_period", 30*time.Second),
		Buffer:      cfg.Seconds("cache.buffer", 60*time.Second),
	}

	logger.Info("cache config",
		"step_seconds", out.Step.Seconds(),
		"horizon_seconds", out.Horizon.Seconds(),
		"grace_period_seconds", out.GracePeriod.Seconds(),
		"buffer_seconds", out.Buffer.Seconds(),
	)

	return out
}

func loadStreamConfig(cfg *config.Config, logger *slog.Logger) stream.Config {
	out := stream.Config{
		MaxConcurrentPerIP: cfg.PositiveInt("stream.max_concurrent", 10),
		MaxTotal:           cfg.PositiveInt("stream.max_total", 1000),
		BandwidthLimit:     cfg.PositiveInt("stream.bandwidth_limit", 1048576),
		KeepaliveInterval:  cfg.Seconds("stream.keepalive_interval", 30*time.Second),
		TrustProxy:         cfg.Bool("http.trust_proxy", false),
		AllowedOrigins:     cfg.StringList("stream.allowed_origins", nil),
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", out.MaxConcurrentPerIP,
		"max_total", out.MaxTotal,
		"bandwidth_limit", out.BandwidthLimit,
		"keepalive_interval_seconds", out.KeepaliveInterval.Seconds(),
		"allowed_origins", out.AllowedOrigins,
	)

	return out
}

func loadRateLimitConfig(cfg *config.Config, logger *slog.Logger) httputil.RateLimitConfig {
	out := httputil.RateLimitConfig{
		Enabled:    cfg.Bool("rate.enabled", true),
		RPS:        cfg.PositiveFloat("rate.rps", 20),
		Burst:      cfg.PositiveInt("rate.burst", 40),
		TrustProxy: cfg.Bool("http.trust_proxy", false),
	}

	logger.Info("rate limit config",
		"enabled", out.Enabled,
		"rps", out.RPS,
		"burst", out.Burst,
		"trust_proxy", out.TrustProxy,
	)

	return out
}

type remoteCatalog struct {
	fetcher   *catalog.Fetcher
	snapshots *catalog.Snapshots
	interval  time.Duration
}

// loadRemoteCatalog returns nil when catalog.url is unset.
func loadRemoteCatalog(cfg *config.Config, logger *slog.Logger) (*remoteCatalog, error) {
	u := cfg.String("catalog.url", "")
	if u == "" {
		return nil, nil
	}

	fetcher, err := catalog.NewFetcher(u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.EnvName("catalog.url"), err)
	}

	out := &remoteCatalog{
		fetcher: fetcher,
		snapshots: catalog.NewSnapshots(
			cfg.String("catalog.snapshot_dir", filepath.Join(os.TempDir(), "orrery", "catalog")),
			cfg.PositiveInt("catalog.snapshot_files", 5),
		),
		interval: cfg.Seconds("catalog.refresh_interval", 5*time.Minute),
	}

	logger.Info("remote catalog config",
		"url", u,
		"format", fetcher.Format(),
		"refresh_interval_seconds", out.interval.Seconds(),
	)

	return out, nil
}
