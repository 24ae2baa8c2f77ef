// Package geodetic converts between geodetic coordinates on the WGS84
// reference ellipsoid and Earth-Centered-Earth-Fixed (ECEF) Cartesian
// coordinates, and builds local East-North-Up tangent-plane frames.
//
// All functions are pure and safe to call concurrently.
package geodetic

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// WGS84 ellipsoid constants.
const (
	// SemiMajorAxisMeters is the WGS84 equatorial radius (metres).
	SemiMajorAxisMeters = 6378137.0
	// eccentricitySquared is the WGS84 first eccentricity squared.
	eccentricitySquared = 6.69437999014e-3
)

// ErrInvalidPoint is returned by Point.Validate for out-of-range or
// non-finite coordinates.
var ErrInvalidPoint = errors.New("invalid geodetic point")

// Point is a geodetic position: longitude and latitude in degrees,
// ellipsoidal altitude in metres. Immutable value type.
type Point struct {
	LonDeg    float64
	LatDeg    float64
	AltMeters float64
}

// Validate rejects degenerate geodetic input before it reaches the
// conversion math. Latitude outside ±90°, longitude outside ±180°, and
// non-finite members are all invalid.
func (p Point) Validate() error {
	for _, v := range [3]float64{p.LonDeg, p.LatDeg, p.AltMeters} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate %v", ErrInvalidPoint, p)
		}
	}
	if p.LatDeg < -90 || p.LatDeg > 90 {
		return fmt.Errorf("%w: latitude %v out of [-90, 90]", ErrInvalidPoint, p.LatDeg)
	}
	if p.LonDeg < -180 || p.LonDeg > 180 {
		return fmt.Errorf("%w: longitude %v out of [-180, 180]", ErrInvalidPoint, p.LonDeg)
	}
	return nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// ToEcef converts a geodetic point to ECEF metres using the standard
// ellipsoidal formula. Deterministic, no failure mode.
func ToEcef(p Point) mgl64.Vec3 {
	sinLat, cosLat := math.Sincos(radians(p.LatDeg))
	sinLon, cosLon := math.Sincos(radians(p.LonDeg))

	// Prime vertical radius of curvature at this latitude.
	n := SemiMajorAxisMeters / math.Sqrt(1-eccentricitySquared*sinLat*sinLat)

	return mgl64.Vec3{
		(n + p.AltMeters) * cosLat * cosLon,
		(n + p.AltMeters) * cosLat * sinLon,
		(n*(1-eccentricitySquared) + p.AltMeters) * sinLat,
	}
}

// ToGeodetic converts an ECEF vector to a geodetic point using iterative
// latitude refinement. Five iterations converge to sub-millimetre accuracy
// for terrestrial altitudes. The result is best-effort for degenerate
// input; callers must not feed it the zero vector.
func ToGeodetic(v mgl64.Vec3) Point {
	lon := math.Atan2(v.Y(), v.X())
	hyp := math.Hypot(v.X(), v.Y())

	if hyp < 1e-9 {
		// On (or numerically at) the polar axis the longitude is
		// arbitrary and the latitude is exactly ±90°.
		alt := math.Abs(v.Z()) - SemiMajorAxisMeters*math.Sqrt(1-eccentricitySquared)
		return Point{LonDeg: 0, LatDeg: math.Copysign(90, v.Z()), AltMeters: alt}
	}

	lat := math.Atan2(v.Z(), hyp*(1-eccentricitySquared))
	var alt float64
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := SemiMajorAxisMeters / math.Sqrt(1-eccentricitySquared*sinLat*sinLat)
		alt = hyp/math.Cos(lat) - n
		lat = math.Atan2(v.Z(), hyp*(1-eccentricitySquared*n/(n+alt)))
	}

	return Point{LonDeg: degrees(lon), LatDeg: degrees(lat), AltMeters: alt}
}
