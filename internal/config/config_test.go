package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func envOnly(t *testing.T) (*Config, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	c, err := Load("", newTestLogger(&buf))
	require.NoError(t, err)
	return c, &buf
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "ORRERY_HTTP_ADDR", EnvName("http.addr"))
	assert.Equal(t, "ORRERY_STREAM_MAX_CONCURRENT", EnvName("stream.max_concurrent"))
}

func TestDefaultsWhenUnset(t *testing.T) {
	c, buf := envOnly(t)

	assert.Equal(t, ":8080", c.String("http.addr", ":8080"))
	assert.Equal(t, 4, c.PositiveInt("prop.workers", 4))
	assert.Equal(t, 2.5, c.PositiveFloat("rate.rps", 2.5))
	assert.Equal(t, 30*time.Second, c.Seconds("cache.grace_period", 30*time.Second))
	assert.True(t, c.Bool("rate.enabled", true))
	assert.Equal(t, []string{"a"}, c.StringList("stream.allowed_origins", []string{"a"}))
	assert.Equal(t, slog.LevelInfo, c.LogLevel("log.level", slog.LevelInfo))
	assert.Empty(t, buf.String(), "unset keys must not warn")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORRERY_HTTP_ADDR", " :9090 ")
	t.Setenv("ORRERY_PROP_WORKERS", "8")
	t.Setenv("ORRERY_RATE_RPS", "0.5")
	t.Setenv("ORRERY_CACHE_GRACE_PERIOD", "12")
	t.Setenv("ORRERY_RATE_ENABLED", "false")
	t.Setenv("ORRERY_STREAM_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("ORRERY_LOG_LEVEL", "debug")

	c, _ := envOnly(t)

	assert.Equal(t, ":9090", c.String("http.addr", ":8080"))
	assert.Equal(t, 8, c.PositiveInt("prop.workers", 4))
	assert.Equal(t, 0.5, c.PositiveFloat("rate.rps", 2.5))
	assert.Equal(t, 12*time.Second, c.Seconds("cache.grace_period", 30*time.Second))
	assert.False(t, c.Bool("rate.enabled", true))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.StringList("stream.allowed_origins", nil))
	assert.Equal(t, slog.LevelDebug, c.LogLevel("log.level", slog.LevelInfo))
}

func TestInvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
		get  func(c *Config) any
		want any
	}{
		{"non-numeric int", "ORRERY_PROP_WORKERS", "many", func(c *Config) any { return c.PositiveInt("prop.workers", 4) }, 4},
		{"zero int", "ORRERY_PROP_WORKERS", "0", func(c *Config) any { return c.PositiveInt("prop.workers", 4) }, 4},
		{"negative float", "ORRERY_RATE_RPS", "-1", func(c *Config) any { return c.PositiveFloat("rate.rps", 2.5) }, 2.5},
		{"bad seconds", "ORRERY_CACHE_BUFFER", "1m", func(c *Config) any { return c.Seconds("cache.buffer", time.Minute) }, time.Minute},
		{"bad bool", "ORRERY_RATE_ENABLED", "maybe", func(c *Config) any { return c.Bool("rate.enabled", true) }, true},
		{"bad level", "ORRERY_LOG_LEVEL", "loud", func(c *Config) any { return c.LogLevel("log.level", slog.LevelInfo) }, slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			c, buf := envOnly(t)

			assert.Equal(t, tt.want, tt.get(c))
			assert.Contains(t, buf.String(), "invalid "+tt.env+" value, using default")
		})
	}
}

func TestBoolStrict(t *testing.T) {
	c, _ := envOnly(t)
	v, err := c.BoolStrict("auth.enabled", false)
	require.NoError(t, err)
	assert.False(t, v)

	t.Setenv("ORRERY_AUTH_ENABLED", "1")
	c, _ = envOnly(t)
	v, err = c.BoolStrict("auth.enabled", false)
	require.NoError(t, err)
	assert.True(t, v)

	t.Setenv("ORRERY_AUTH_ENABLED", "yes please")
	c, _ = envOnly(t)
	_, err = c.BoolStrict("auth.enabled", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORRERY_AUTH_ENABLED")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orrery.yaml")
	cfg := `
http:
  addr: ":7070"
stream:
  max_concurrent: 3
  allowed_origins: ["https://amodit.space"]
cache:
  grace_period: 45
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))

	var buf bytes.Buffer
	c, err := Load(path, newTestLogger(&buf))
	require.NoError(t, err)

	assert.Equal(t, ":7070", c.String("http.addr", ":8080"))
	assert.Equal(t, 3, c.PositiveInt("stream.max_concurrent", 10))
	assert.Equal(t, []string{"https://amodit.space"}, c.StringList("stream.allowed_origins", nil))
	assert.Equal(t, 45*time.Second, c.Seconds("cache.grace_period", 30*time.Second))

	// Environment beats the file.
	t.Setenv("ORRERY_STREAM_MAX_CONCURRENT", "7")
	c, err = Load(path, newTestLogger(&buf))
	require.NoError(t, err)
	assert.Equal(t, 7, c.PositiveInt("stream.max_concurrent", 10))
}

func TestLoadMissingFile(t *testing.T) {
	var buf bytes.Buffer
	_, err := Load("/nonexistent/orrery.yaml", newTestLogger(&buf))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}
