package kepler

// DefaultSegments is the number of path segments drawn for one orbit.
const DefaultSegments = 128

// State is the intermediate solution of the orbit at one instant.
type State struct {
	MeanAnomaly      float64
	EccentricAnomaly float64
	TrueAnomaly      float64
	Radius           float64
	Iterations       int  // Kepler iterations used
	Converged        bool // false when MaxIterations was hit
}

// StateAt solves the orbit described by el at time t.
func StateAt(el Elements, t float64) State {
	M := el.MeanAnomaly(t)
	E, n, ok := SolveEccentricAnomalyN(M, el.Eccentricity, DefaultTolerance)
	nu := EccentricToTrueAnomaly(E, el.Eccentricity)
	return State{
		MeanAnomaly:      M,
		EccentricAnomaly: E,
		TrueAnomaly:      nu,
		Radius:           OrbitalRadius(el.SemiMajorAxis, el.Eccentricity, nu),
		Iterations:       n,
		Converged:        ok,
	}
}

// Position returns the position for this state, oriented by el.
func (s State) Position(el Elements) Vec3 {
	x, y := orbitalPlane(s.Radius, s.TrueAnomaly, el.ArgumentOfPeriapsis)
	return toReference(x, y, el.Inclination, el.LongitudeOfAscendingNode)
}

// RelativeSpeed returns a/r for this state.
func (s State) RelativeSpeed(el Elements) float64 {
	return el.SemiMajorAxis / s.Radius
}

// Position returns the body's position at time t in (x, z, y) order.
// Identical arguments always produce identical results.
func Position(el Elements, t float64) Vec3 {
	return StateAt(el, t).Position(el)
}

// RelativeSpeed returns semi-major axis over instantaneous radius, a unitless
// stand-in for orbital speed: above 1 near periapsis, below 1 near apoapsis.
func RelativeSpeed(el Elements, t float64) float64 {
	return StateAt(el, t).RelativeSpeed(el)
}

// OrbitPath samples one full period at segments+1 uniform time steps, so the
// first and last points coincide. Points bunch up near apoapsis where the
// body is slow. A segment count below 1 yields nil.
func OrbitPath(el Elements, segments int) []Vec3 {
	if segments < 1 {
		return nil
	}

	points := make([]Vec3, 0, segments+1)
	for i := 0; i <= segments; i++ {
		t := (float64(i) / float64(segments)) * el.OrbitalPeriod
		points = append(points, Position(el, t))
	}
	return points
}
