package kepler

import "math"

// Moon is a decorative satellite circling a body on a simple circle with a
// slight vertical wobble. It is not a Keplerian orbit.
type Moon struct {
	OrbitRadius float64 `json:"orbit_radius"`
	Size        float64 `json:"size"`
	AngularRate float64 `json:"angular_rate"` // radians per time unit
	Offset      float64 `json:"offset"`       // angle at time zero
}

// MoonPosition returns the moon's position at time t around parent.
func MoonPosition(parent Vec3, m Moon, t float64) Vec3 {
	angle := m.Offset + m.AngularRate*t
	s, c := math.Sincos(angle)
	return Vec3{
		parent[0] + c*m.OrbitRadius,
		parent[1] + math.Sin(angle*0.3)*m.OrbitRadius*0.1,
		parent[2] + s*m.OrbitRadius,
	}
}
