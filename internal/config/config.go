// Package config resolves service settings from defaults, an optional config
// file and ORRERY_* environment variables, in increasing precedence.
//
// Keys are dotted ("stream.max_concurrent") and map to environment variables
// by upper-casing and replacing dots with underscores
// (ORRERY_STREAM_MAX_CONCURRENT). Typed getters never fail: an unparseable or
// out-of-range value logs a warning and the caller's default is used.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ORRERY"

// Config is a read-only view over one viper instance.
type Config struct {
	v      *viper.Viper
	logger *slog.Logger
}

// Load builds a Config. If path is empty only the environment is consulted;
// otherwise the file must exist and parse.
func Load(path string, logger *slog.Logger) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Info("config file loaded", "path", path)
	}

	return &Config{v: v, logger: logger}, nil
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (c *Config) raw(key string) (any, bool) {
	if !c.v.IsSet(key) {
		return nil, false
	}
	val := c.v.Get(key)
	if s, ok := val.(string); ok && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return val, true
}

func (c *Config) warn(key string, val, def any) {
	c.logger.Warn("invalid "+EnvName(key)+" value, using default", "value", val, "default", def)
}

// String returns the value of key, or def when unset or empty.
func (c *Config) String(key, def string) string {
	val, ok := c.raw(key)
	if !ok {
		return def
	}
	s, err := cast.ToStringE(val)
	if err != nil {
		c.warn(key, val, def)
		return def
	}
	return strings.TrimSpace(s)
}

// Bool returns the value of key as a boolean (true/false/1/0).
func (c *Config) Bool(key string, def bool) bool {
	val, ok := c.raw(key)
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		c.warn(key, val, def)
		return def
	}
	return b
}

// BoolStrict is Bool but reports an invalid value as an error instead of
// falling back. Used for settings where a typo must not silently weaken
// security.
func (c *Config) BoolStrict(key string, def bool) (bool, error) {
	val, ok := c.raw(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(val)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean value (true/false/1/0)", EnvName(key))
	}
	return b, nil
}

// PositiveInt returns the value of key if it is an integer >= 1.
func (c *Config) PositiveInt(key string, def int) int {
	val, ok := c.raw(key)
	if !ok {
		return def
	}
	n, err := cast.ToIntE(val)
	if err != nil || n < 1 {
		c.warn(key, val, def)
		return def
	}
	return n
}

// PositiveFloat returns the value of key if it is a number > 0.
func (c *Config) PositiveFloat(key string, def float64) float64 {
	val, ok := c.raw(key)
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(val)
	if err != nil || !(f > 0) {
		c.warn(key, val, def)
		return def
	}
	return f
}

// Seconds reads key as a whole number of seconds >= 1.
func (c *Config) Seconds(key string, def time.Duration) time.Duration {
	val, ok := c.raw(key)
	if !ok {
		return def
	}
	n, err := cast.ToIntE(val)
	if err != nil || n < 1 {
		c.warn(key, val, int(def.Seconds()))
		return def
	}
	return time.Duration(n) * time.Second
}

// StringList reads key as a list. Environment values are comma separated;
// config files may use a native list.
func (c *Config) StringList(key string, def []string) []string {
	val, ok := c.raw(key)
	if !ok {
		return def
	}
	var items []string
	if s, isString := val.(string); isString {
		items = strings.Split(s, ",")
	} else {
		var err error
		items, err = cast.ToStringSliceE(val)
		if err != nil {
			c.warn(key, val, def)
			return def
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LogLevel parses key as a slog level name (debug, info, warn, error).
func (c *Config) LogLevel(key string, def slog.Level) slog.Level {
	val, ok := c.raw(key)
	if !ok {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cast.ToString(val))); err != nil {
		c.warn(key, val, def.String())
		return def
	}
	return lvl
}
