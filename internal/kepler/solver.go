package kepler

import "math"

const (
	// DefaultTolerance is the |ΔE| at which Kepler iteration stops.
	DefaultTolerance = 1e-6

	// MaxIterations caps Kepler iteration so every call finishes in bounded time.
	MaxIterations = 100
)

// SolveEccentricAnomaly solves Kepler's equation M = E - e·sin(E) for E by
// Newton iteration starting at E = M. Iteration stops once |ΔE| < tolerance;
// a tolerance <= 0 is never met and runs to MaxIterations. If the cap is
// reached the last estimate is returned without complaint.
func SolveEccentricAnomaly(meanAnomaly, eccentricity, tolerance float64) float64 {
	E, _, _ := SolveEccentricAnomalyN(meanAnomaly, eccentricity, tolerance)
	return E
}

// SolveEccentricAnomalyN is SolveEccentricAnomaly that also reports how many
// iterations ran and whether |ΔE| fell below the tolerance.
func SolveEccentricAnomalyN(meanAnomaly, eccentricity, tolerance float64) (E float64, iterations int, converged bool) {
	E = meanAnomaly
	for iterations < MaxIterations {
		deltaE := (meanAnomaly - E + eccentricity*math.Sin(E)) / (1 - eccentricity*math.Cos(E))
		E += deltaE
		iterations++
		if math.Abs(deltaE) < tolerance {
			return E, iterations, true
		}
	}
	return E, iterations, false
}

// EccentricToTrueAnomaly converts an eccentric anomaly to the true anomaly in
// [-π, π]. The two-argument arctangent keeps the sign of the result.
func EccentricToTrueAnomaly(eccentricAnomaly, eccentricity float64) float64 {
	sinE, cosE := math.Sincos(eccentricAnomaly)
	denom := 1 - eccentricity*cosE
	cosNu := (cosE - eccentricity) / denom
	sinNu := (math.Sqrt(1-eccentricity*eccentricity) * sinE) / denom
	return math.Atan2(sinNu, cosNu)
}

// OrbitalRadius returns the conic-section radius a(1-e²)/(1+e·cos ν).
func OrbitalRadius(semiMajorAxis, eccentricity, trueAnomaly float64) float64 {
	return (semiMajorAxis * (1 - eccentricity*eccentricity)) / (1 + eccentricity*math.Cos(trueAnomaly))
}
