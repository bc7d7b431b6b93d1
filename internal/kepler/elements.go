// Package kepler computes body positions from Keplerian orbital elements.
//
// Everything here is a pure function of (elements, time): there is no shared
// state, so callers may evaluate any number of bodies concurrently. Distances
// and times are in abstract units chosen by the caller.
//
// Positions are returned in the renderer's axis order (x, z, y): the
// out-of-plane orbital axis becomes the visualization's vertical axis.
package kepler

import (
	"errors"
	"fmt"
	"math"
)

// Elements are the classical orbital elements of one body. Angles are in
// radians. The engine never mutates them.
type Elements struct {
	SemiMajorAxis            float64 `json:"semi_major_axis"`
	Eccentricity             float64 `json:"eccentricity"`
	Inclination              float64 `json:"inclination"`
	LongitudeOfAscendingNode float64 `json:"longitude_of_ascending_node"`
	ArgumentOfPeriapsis      float64 `json:"argument_of_periapsis"`
	MeanAnomalyAtEpoch       float64 `json:"mean_anomaly_at_epoch"`
	OrbitalPeriod            float64 `json:"orbital_period"`
}

// Vec3 is a Cartesian position in presentation axis order (x, z, y).
type Vec3 [3]float64

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// IsFinite reports whether every component of v is a finite number.
func (v Vec3) IsFinite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Configuration errors reported by Validate.
var (
	ErrSemiMajorAxis = errors.New("semi-major axis must be positive")
	ErrEccentricity  = errors.New("eccentricity must be in [0, 1)")
	ErrPeriod        = errors.New("orbital period must be positive")
	ErrNonFinite     = errors.New("orbital element is not finite")
)

// Validate checks that el lies inside the domain the engine is defined on.
// The engine itself never calls it; out-of-domain elements simply produce
// meaningless or non-finite positions.
func (el Elements) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"semi_major_axis", el.SemiMajorAxis},
		{"eccentricity", el.Eccentricity},
		{"inclination", el.Inclination},
		{"longitude_of_ascending_node", el.LongitudeOfAscendingNode},
		{"argument_of_periapsis", el.ArgumentOfPeriapsis},
		{"mean_anomaly_at_epoch", el.MeanAnomalyAtEpoch},
		{"orbital_period", el.OrbitalPeriod},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s = %v", ErrNonFinite, f.name, f.v)
		}
	}

	if el.SemiMajorAxis <= 0 {
		return fmt.Errorf("%w: got %g", ErrSemiMajorAxis, el.SemiMajorAxis)
	}
	if el.Eccentricity < 0 || el.Eccentricity >= 1 {
		return fmt.Errorf("%w: got %g", ErrEccentricity, el.Eccentricity)
	}
	if el.OrbitalPeriod <= 0 {
		return fmt.Errorf("%w: got %g", ErrPeriod, el.OrbitalPeriod)
	}
	return nil
}

// Periapsis returns the closest distance to the focus.
func (el Elements) Periapsis() float64 {
	return el.SemiMajorAxis * (1 - el.Eccentricity)
}

// Apoapsis returns the farthest distance from the focus.
func (el Elements) Apoapsis() float64 {
	return el.SemiMajorAxis * (1 + el.Eccentricity)
}

// MeanMotion returns the mean angular rate in radians per time unit.
func (el Elements) MeanMotion() float64 {
	return 2 * math.Pi / el.OrbitalPeriod
}

// MeanAnomaly returns the mean anomaly at time t. It grows linearly and is
// deliberately left unwrapped; everything downstream is periodic in it.
func (el Elements) MeanAnomaly(t float64) float64 {
	return el.MeanAnomalyAtEpoch + (2*math.Pi*t)/el.OrbitalPeriod
}
