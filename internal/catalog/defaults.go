package catalog

import (
	"math"

	"github.com/AmoditYadav/amodit-space/internal/kepler"
)

// Moon proportions relative to the parent's display size.
const (
	moonRadiusFactor   = 1.8
	moonSizeFactor     = 0.2
	defaultMoonAngular = 0.75 // radians per sim time unit
)

// DefaultMoon derives the decorative moon for a body of the given display
// size whose orbit starts at meanAnomalyAtEpoch.
func DefaultMoon(size, meanAnomalyAtEpoch float64) *kepler.Moon {
	return &kepler.Moon{
		OrbitRadius: size * moonRadiusFactor,
		Size:        size * moonSizeFactor,
		AngularRate: defaultMoonAngular,
		Offset:      meanAnomalyAtEpoch,
	}
}

// DefaultBodies returns the built-in navigation planets: one per site section.
func DefaultBodies() []Body {
	bodies := []Body{
		{
			ID:              "about",
			Name:            "About",
			Route:           "/about",
			Color:           "#5B8FD4",
			SecondaryColor:  "#4A7BAB",
			Emissive:        "#1a3a5c",
			Size:            0.55,
			HasAtmosphere:   true,
			AtmosphereColor: "#88CCFF",
			RotationSpeed:   0.003,
			Orbit: kepler.Elements{
				SemiMajorAxis:            4.5,
				Eccentricity:             0.02,
				Inclination:              math.Pi / 90,
				LongitudeOfAscendingNode: 0,
				ArgumentOfPeriapsis:      0,
				MeanAnomalyAtEpoch:       0,
				OrbitalPeriod:            80,
			},
		},
		{
			ID:             "projects",
			Name:           "Projects",
			Route:          "/projects",
			Color:          "#C26B4A",
			SecondaryColor: "#8B4332",
			Emissive:       "#3d1a10",
			Size:           0.48,
			RotationSpeed:  0.0025,
			Orbit: kepler.Elements{
				SemiMajorAxis:            7,
				Eccentricity:             0.04,
				Inclination:              -math.Pi / 60,
				LongitudeOfAscendingNode: math.Pi / 4,
				ArgumentOfPeriapsis:      math.Pi / 6,
				MeanAnomalyAtEpoch:       math.Pi / 3,
				OrbitalPeriod:            120,
			},
		},
		{
			ID:             "blog",
			Name:           "Blog",
			Route:          "/blog",
			Color:          "#C9A86C",
			SecondaryColor: "#A68B55",
			Emissive:       "#3a3020",
			Size:           0.65,
			RotationSpeed:  0.004,
			Orbit: kepler.Elements{
				SemiMajorAxis:            10,
				Eccentricity:             0.03,
				Inclination:              math.Pi / 45,
				LongitudeOfAscendingNode: math.Pi / 2,
				ArgumentOfPeriapsis:      math.Pi / 3,
				MeanAnomalyAtEpoch:       math.Pi * 0.7,
				OrbitalPeriod:            160,
			},
		},
		{
			ID:             "contact",
			Name:           "Contact",
			Route:          "/contact",
			Color:          "#6B8FAF",
			SecondaryColor: "#5A7A95",
			Emissive:       "#1a2a3c",
			Size:           0.45,
			RotationSpeed:  0.003,
			Orbit: kepler.Elements{
				SemiMajorAxis:            13,
				Eccentricity:             0.01,
				Inclination:              -math.Pi / 72,
				LongitudeOfAscendingNode: math.Pi,
				ArgumentOfPeriapsis:      math.Pi / 2,
				MeanAnomalyAtEpoch:       math.Pi * 1.5,
				OrbitalPeriod:            200,
			},
		},
	}

	for i := range bodies {
		bodies[i].Moon = DefaultMoon(bodies[i].Size, bodies[i].Orbit.MeanAnomalyAtEpoch)
	}
	return bodies
}
