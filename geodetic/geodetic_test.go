package geodetic

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestRoundTrip(t *testing.T) {
	points := []Point{
		{LonDeg: 0, LatDeg: 0, AltMeters: 0},
		{LonDeg: 47.171, LatDeg: 55.770, AltMeters: 115},
		{LonDeg: -122.4194, LatDeg: 37.7749, AltMeters: 16},
		{LonDeg: 139.6917, LatDeg: 35.6895, AltMeters: 40},
		{LonDeg: 151.2093, LatDeg: -33.8688, AltMeters: 58},
		{LonDeg: -68.3029, LatDeg: -54.8019, AltMeters: 6},
		{LonDeg: 12.4964, LatDeg: 41.9028, AltMeters: -1000},
		{LonDeg: 86.925, LatDeg: 27.9881, AltMeters: 100000},
		{LonDeg: 179.9, LatDeg: 71.0, AltMeters: 3000},
		{LonDeg: -179.9, LatDeg: -71.0, AltMeters: 3000},
	}

	for _, p := range points {
		got := ToGeodetic(ToEcef(p))
		if math.Abs(got.LonDeg-p.LonDeg) > 1e-9 {
			t.Errorf("%+v: longitude round-trip error %v", p, got.LonDeg-p.LonDeg)
		}
		if math.Abs(got.LatDeg-p.LatDeg) > 1e-9 {
			t.Errorf("%+v: latitude round-trip error %v", p, got.LatDeg-p.LatDeg)
		}
		if math.Abs(got.AltMeters-p.AltMeters) > 1e-6 {
			t.Errorf("%+v: altitude round-trip error %v", p, got.AltMeters-p.AltMeters)
		}
	}
}

func TestToEcefEquator(t *testing.T) {
	// On the equator at the prime meridian the ECEF vector points down
	// the x axis with magnitude equal to the semi-major axis.
	v := ToEcef(Point{LonDeg: 0, LatDeg: 0, AltMeters: 0})
	want := mgl64.Vec3{SemiMajorAxisMeters, 0, 0}
	if v.Sub(want).Len() > 1e-6 {
		t.Fatalf("equator ECEF = %v, want %v", v, want)
	}
}

func TestToGeodeticPole(t *testing.T) {
	// The polar axis has an arbitrary longitude; latitude must still be
	// exactly ±90 and the call must not blow up.
	semiMinor := SemiMajorAxisMeters * math.Sqrt(1-eccentricitySquared)
	p := ToGeodetic(mgl64.Vec3{0, 0, semiMinor + 250})
	if p.LatDeg != 90 {
		t.Errorf("north pole latitude = %v, want 90", p.LatDeg)
	}
	if math.Abs(p.AltMeters-250) > 1e-6 {
		t.Errorf("north pole altitude = %v, want 250", p.AltMeters)
	}

	p = ToGeodetic(mgl64.Vec3{0, 0, -(semiMinor + 250)})
	if p.LatDeg != -90 {
		t.Errorf("south pole latitude = %v, want -90", p.LatDeg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		point   Point
		wantErr bool
	}{
		{"valid", Point{LonDeg: 47.171, LatDeg: 55.770, AltMeters: 115}, false},
		{"edge latitudes", Point{LonDeg: 0, LatDeg: 90, AltMeters: 0}, false},
		{"edge longitudes", Point{LonDeg: -180, LatDeg: 0, AltMeters: 0}, false},
		{"latitude too big", Point{LonDeg: 0, LatDeg: 90.01, AltMeters: 0}, true},
		{"latitude too small", Point{LonDeg: 0, LatDeg: -91, AltMeters: 0}, true},
		{"longitude out of range", Point{LonDeg: 181, LatDeg: 0, AltMeters: 0}, true},
		{"nan latitude", Point{LonDeg: 0, LatDeg: math.NaN(), AltMeters: 0}, true},
		{"inf altitude", Point{LonDeg: 0, LatDeg: 0, AltMeters: math.Inf(1)}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.point.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate(%+v) error = %v, wantErr %v", tc.point, err, tc.wantErr)
			}
		})
	}
}
