package kepler

import "math"

// orbitalPlane places a body at radius r and true anomaly ν in its orbital
// plane, with the ellipse rotated by the argument of periapsis ω.
func orbitalPlane(r, trueAnomaly, argPeriapsis float64) (x, y float64) {
	s, c := math.Sincos(trueAnomaly + argPeriapsis)
	return r * c, r * s
}

// toReference tilts the orbital plane by the inclination about its own x-axis,
// then turns it by the longitude of the ascending node about the reference
// normal. The result is remapped to (x, z, y) so the out-of-plane axis is
// the renderer's vertical.
func toReference(xOrbital, yOrbital, inclination, node float64) Vec3 {
	yInclined := yOrbital * math.Cos(inclination)
	zInclined := yOrbital * math.Sin(inclination)

	sinNode, cosNode := math.Sincos(node)
	xFinal := xOrbital*cosNode - yInclined*sinNode
	yFinal := xOrbital*sinNode + yInclined*cosNode
	zFinal := zInclined

	return Vec3{xFinal, zFinal, yFinal}
}
