package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/config"
)

func loadTestConfig(t *testing.T) (*config.Config, *slog.Logger) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg, err := config.Load("", logger)
	if err != nil {
		t.Fatal(err)
	}
	return cfg, logger
}

func TestLoadAuthConfig(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		token   string
		wantErr bool
		wantOn  bool
	}{
		{"disabled by default", "", "", false, false},
		{"enabled with token", "true", "abc", false, true},
		{"enabled without token", "1", "", true, true},
		{"not a boolean", "sure", "abc", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ORRERY_AUTH_ENABLED", tt.enabled)
			t.Setenv("ORRERY_AUTH_TOKEN", tt.token)
			cfg, logger := loadTestConfig(t)

			got, err := loadAuthConfig(cfg, logger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got.Enabled != tt.wantOn {
				t.Errorf("enabled = %v, want %v", got.Enabled, tt.wantOn)
			}
		})
	}
}

func TestLoadClock(t *testing.T) {
	cfg, logger := loadTestConfig(t)
	clock, err := loadClock(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if clock.Rate != 2 || clock.Frozen {
		t.Errorf("default clock = %+v, want desktop rate 2", clock)
	}

	t.Setenv("ORRERY_CLOCK_PROFILE", "reduced_motion")
	t.Setenv("ORRERY_CLOCK_EPOCH", "2026-01-01T00:00:00Z")
	cfg, logger = loadTestConfig(t)
	clock, err = loadClock(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if !clock.Frozen || !clock.Epoch.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("clock = %+v", clock)
	}

	t.Setenv("ORRERY_CLOCK_PROFILE", "mobile")
	t.Setenv("ORRERY_CLOCK_RATE", "5")
	cfg, logger = loadTestConfig(t)
	clock, _ = loadClock(cfg, logger)
	if clock.Rate != 5 {
		t.Errorf("rate override = %g, want 5", clock.Rate)
	}

	for _, env := range []struct{ key, val string }{
		{"ORRERY_CLOCK_PROFILE", "warp"},
		{"ORRERY_CLOCK_EPOCH", "last tuesday"},
	} {
		t.Run(env.key, func(t *testing.T) {
			t.Setenv("ORRERY_CLOCK_PROFILE", "desktop")
			t.Setenv(env.key, env.val)
			cfg, logger := loadTestConfig(t)
			if _, err := loadClock(cfg, logger); err == nil {
				t.Errorf("%s=%q: expected error", env.key, env.val)
			}
		})
	}
}

func TestLoadCacheConfigInheritsPropagation(t *testing.T) {
	t.Setenv("ORRERY_KEYFRAME_STEP", "2")
	t.Setenv("ORRERY_KEYFRAME_HORIZON", "bogus")
	t.Setenv("ORRERY_CACHE_BUFFER", "90")
	cfg, logger := loadTestConfig(t)

	prop := loadPropConfig(cfg, logger)
	if prop.Step != 2*time.Second || prop.Horizon != 120*time.Second {
		t.Errorf("prop config = %+v", prop)
	}

	c := loadCacheConfig(cfg, logger, prop)
	if c.Step != prop.Step || c.Horizon != prop.Horizon {
		t.Errorf("cache step/horizon = %v/%v, want %v/%v", c.Step, c.Horizon, prop.Step, prop.Horizon)
	}
	if c.Buffer != 90*time.Second || c.GracePeriod != 30*time.Second {
		t.Errorf("cache buffer/grace = %v/%v", c.Buffer, c.GracePeriod)
	}
}

func TestLoadStreamAndRateConfig(t *testing.T) {
	t.Setenv("ORRERY_HTTP_TRUST_PROXY", "true")
	t.Setenv("ORRERY_STREAM_ALLOWED_ORIGINS", "https://amodit.space")
	t.Setenv("ORRERY_RATE_RPS", "0")
	cfg, logger := loadTestConfig(t)

	s := loadStreamConfig(cfg, logger)
	if !s.TrustProxy || len(s.AllowedOrigins) != 1 || s.MaxConcurrentPerIP != 10 {
		t.Errorf("stream config = %+v", s)
	}

	r := loadRateLimitConfig(cfg, logger)
	if !r.Enabled || !r.TrustProxy || r.RPS != 20 || r.Burst != 40 {
		t.Errorf("rate config = %+v", r)
	}
}

func TestLoadRemoteCatalog(t *testing.T) {
	cfg, logger := loadTestConfig(t)
	remote, err := loadRemoteCatalog(cfg, logger)
	if err != nil || remote != nil {
		t.Fatalf("unset url: remote = %v, err = %v", remote, err)
	}

	t.Setenv("ORRERY_CATALOG_URL", "https://assets.example/bodies.yaml")
	t.Setenv("ORRERY_CATALOG_REFRESH_INTERVAL", "60")
	cfg, logger = loadTestConfig(t)
	remote, err = loadRemoteCatalog(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if remote.fetcher.Format() != "yaml" || remote.interval != time.Minute {
		t.Errorf("remote = %+v", remote)
	}

	t.Setenv("ORRERY_CATALOG_URL", "file:///etc/bodies.yaml")
	cfg, logger = loadTestConfig(t)
	if _, err := loadRemoteCatalog(cfg, logger); err == nil {
		t.Error("expected error for non-http url")
	}
}
