package geodetic

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestFrameOriginInvariant(t *testing.T) {
	refs := []Point{
		{LonDeg: 0, LatDeg: 0, AltMeters: 0},
		{LonDeg: 47.171, LatDeg: 55.770, AltMeters: 115},
		{LonDeg: -122.4194, LatDeg: 37.7749, AltMeters: 16},
		{LonDeg: 151.2093, LatDeg: -33.8688, AltMeters: 58},
		{LonDeg: 0, LatDeg: 89.9, AltMeters: 100},
	}

	for _, ref := range refs {
		frame := EnuFrame(ref)
		local := frame.ToLocal(ToEcef(ref))
		if local.Len() > 1e-6 {
			t.Errorf("ref %+v: frame origin maps to %v, want zero", ref, local)
		}
	}
}

// A point 100 m due East of the reference at the same altitude must land
// at local (≈100, ≈0, ≈0).
func TestFrameEastComposition(t *testing.T) {
	ref := Point{LonDeg: 47.171, LatDeg: 55.770, AltMeters: 115}

	sinLat := math.Sin(radians(ref.LatDeg))
	n := SemiMajorAxisMeters / math.Sqrt(1-eccentricitySquared*sinLat*sinLat)
	dLonDeg := degrees(100 / ((n + ref.AltMeters) * math.Cos(radians(ref.LatDeg))))
	east := Point{LonDeg: ref.LonDeg + dLonDeg, LatDeg: ref.LatDeg, AltMeters: ref.AltMeters}

	local := EnuFrame(ref).ToLocal(ToEcef(east))

	if math.Abs(local.X()-100) > 0.1 {
		t.Errorf("east component = %v, want ≈100", local.X())
	}
	if math.Abs(local.Y()) > 0.1 {
		t.Errorf("north component = %v, want ≈0", local.Y())
	}
	if math.Abs(local.Z()) > 0.1 {
		t.Errorf("up component = %v, want ≈0", local.Z())
	}
}

func TestFrameRoundTrip(t *testing.T) {
	ref := Point{LonDeg: 47.171, LatDeg: 55.770, AltMeters: 115}
	frame := EnuFrame(ref)

	locals := []mgl64.Vec3{
		{0, 0, 0},
		{100, 0, 0},
		{0, -250, 40},
		{1234.5, 678.9, -12.3},
	}
	for _, l := range locals {
		back := frame.ToLocal(frame.ToEcef(l))
		if back.Sub(l).Len() > 1e-6 {
			t.Errorf("local %v round-trips to %v", l, back)
		}
	}
}

func TestFrameUpPointsAwayFromEarth(t *testing.T) {
	ref := Point{LonDeg: 47.171, LatDeg: 55.770, AltMeters: 115}
	frame := EnuFrame(ref)

	above := Point{LonDeg: ref.LonDeg, LatDeg: ref.LatDeg, AltMeters: ref.AltMeters + 500}
	local := frame.ToLocal(ToEcef(above))
	if math.Abs(local.Z()-500) > 0.01 {
		t.Errorf("point 500 m above reference has up component %v", local.Z())
	}
	if math.Hypot(local.X(), local.Y()) > 0.01 {
		t.Errorf("point straight above reference drifted horizontally: %v", local)
	}
}
