package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/soniakeys/unit"
	"github.com/spf13/viper"

	"github.com/AmoditYadav/amodit-space/internal/kepler"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

// Angle units accepted in body files.
const (
	UnitRadians = "radians"
	UnitDegrees = "degrees"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// fileOrbit mirrors kepler.Elements with file-friendly keys.
type fileOrbit struct {
	SemiMajorAxis            float64 `mapstructure:"semi_major_axis"`
	Eccentricity             float64 `mapstructure:"eccentricity"`
	Inclination              float64 `mapstructure:"inclination"`
	LongitudeOfAscendingNode float64 `mapstructure:"longitude_of_ascending_node"`
	ArgumentOfPeriapsis      float64 `mapstructure:"argument_of_periapsis"`
	MeanAnomalyAtEpoch       float64 `mapstructure:"mean_anomaly_at_epoch"`
	OrbitalPeriod            float64 `mapstructure:"orbital_period"`
}

type fileMoon struct {
	OrbitRadius float64  `mapstructure:"orbit_radius"`
	Size        float64  `mapstructure:"size"`
	AngularRate *float64 `mapstructure:"angular_rate"`
	Offset      *float64 `mapstructure:"offset"`
}

type fileBody struct {
	ID              string    `mapstructure:"id"`
	Name            string    `mapstructure:"name"`
	Route           string    `mapstructure:"route"`
	Color           string    `mapstructure:"color"`
	SecondaryColor  string    `mapstructure:"secondary_color"`
	Emissive        string    `mapstructure:"emissive"`
	Size            float64   `mapstructure:"size"`
	HasAtmosphere   bool      `mapstructure:"has_atmosphere"`
	AtmosphereColor string    `mapstructure:"atmosphere_color"`
	RotationSpeed   float64   `mapstructure:"rotation_speed"`
	Orbit           fileOrbit `mapstructure:"orbit"`
	Moon            *fileMoon `mapstructure:"moon"`
	NoMoon          bool      `mapstructure:"no_moon"`
}

// Load reads a body file (YAML, JSON or TOML, chosen by extension) and
// returns a validated dataset.
func Load(path string) (*Dataset, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return decode(v, path)
}

// Parse reads a body file of the given format ("yaml", "json", "toml")
// from r. source is recorded on the dataset.
func Parse(r io.Reader, format, source string) (*Dataset, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", source, err)
	}
	return decode(v, source)
}

func decode(v *viper.Viper, source string) (*Dataset, error) {
	v.SetDefault("angle_unit", UnitRadians)
	angleUnit := strings.ToLower(strings.TrimSpace(v.GetString("angle_unit")))
	if angleUnit != UnitRadians && angleUnit != UnitDegrees {
		return nil, fmt.Errorf("catalog %s: angle_unit must be %q or %q, got %q",
			source, UnitRadians, UnitDegrees, angleUnit)
	}

	var raw []fileBody
	if err := v.UnmarshalKey("bodies", &raw); err != nil {
		return nil, fmt.Errorf("decoding catalog %s: %w", source, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("catalog %s: no bodies defined", source)
	}

	toRad := func(x float64) float64 { return x }
	if angleUnit == UnitDegrees {
		toRad = func(x float64) float64 { return unit.AngleFromDeg(x).Rad() }
	}

	bodies := make([]Body, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, fb := range raw {
		id := strings.TrimSpace(fb.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog %s: body %d has no id", source, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog %s: duplicate body id %q", source, id)
		}
		seen[id] = true

		b := Body{
			ID:              id,
			Name:            fb.Name,
			Route:           fb.Route,
			Color:           fb.Color,
			SecondaryColor:  fb.SecondaryColor,
			Emissive:        fb.Emissive,
			Size:            fb.Size,
			HasAtmosphere:   fb.HasAtmosphere,
			AtmosphereColor: fb.AtmosphereColor,
			RotationSpeed:   fb.RotationSpeed,
			Orbit: kepler.Elements{
				SemiMajorAxis:            fb.Orbit.SemiMajorAxis,
				Eccentricity:             fb.Orbit.Eccentricity,
				Inclination:              toRad(fb.Orbit.Inclination),
				LongitudeOfAscendingNode: toRad(fb.Orbit.LongitudeOfAscendingNode),
				ArgumentOfPeriapsis:      toRad(fb.Orbit.ArgumentOfPeriapsis),
				MeanAnomalyAtEpoch:       toRad(fb.Orbit.MeanAnomalyAtEpoch),
				OrbitalPeriod:            fb.Orbit.OrbitalPeriod,
			},
		}
		if b.Name == "" {
			b.Name = id
		}
		if err := b.Orbit.Validate(); err != nil {
			return nil, fmt.Errorf("catalog %s: body %q: %w", source, id, err)
		}

		switch {
		case fb.NoMoon:
		case fb.Moon != nil:
			m := DefaultMoon(b.Size, b.Orbit.MeanAnomalyAtEpoch)
			if fb.Moon.OrbitRadius > 0 {
				m.OrbitRadius = fb.Moon.OrbitRadius
			}
			if fb.Moon.Size > 0 {
				m.Size = fb.Moon.Size
			}
			if fb.Moon.AngularRate != nil {
				m.AngularRate = toRad(*fb.Moon.AngularRate)
			}
			if fb.Moon.Offset != nil {
				m.Offset = toRad(*fb.Moon.Offset)
			}
			b.Moon = m
		case b.Size > 0:
			b.Moon = DefaultMoon(b.Size, b.Orbit.MeanAnomalyAtEpoch)
		}

		bodies = append(bodies, b)
	}

	return &Dataset{
		Source:   source,
		LoadedAt: time.Now().UTC(),
		Bodies:   bodies,
	}, nil
}

// Watch reloads the body file at path whenever it changes and swaps the new
// dataset into store. Files that fail to load are logged and the previous
// dataset stays active. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, store *Store, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic rename-on-save is still observed.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	logger.Info("watching catalog file", "path", abs)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		last    []byte
	)
	if ds := store.Get(); ds != nil && ds.Source == path {
		last, _ = os.ReadFile(abs)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "error", err)

		case <-timerCh:
			timerCh = nil
			data, err := os.ReadFile(abs)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					logger.Warn("catalog file removed, keeping previous dataset", "path", abs)
					continue
				}
				logger.Warn("catalog reload failed", "path", abs, "error", err)
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			ds, err := Load(path)
			if err != nil {
				logger.Warn("catalog reload rejected, keeping previous dataset", "path", abs, "error", err)
				metrics.IncCatalogReloads("error")
				continue
			}
			last = data
			store.Set(ds)
			metrics.IncCatalogReloads("success")
			logger.Info("catalog reloaded", "path", abs, "bodies", len(ds.Bodies))
		}
	}
}
