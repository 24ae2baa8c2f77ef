package geodetic

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Frame is a local East-North-Up tangent-plane frame anchored at a
// reference geodetic point. EcefToLocal maps ECEF metres into the frame;
// applying it to the ECEF vector of Ref yields the origin.
//
// ECEF magnitudes are ~10^7 metres while tile-local features are metres.
// Render pipelines must work in this reduced frame, never in raw ECEF,
// or vertex positions lose precision on the GPU path.
type Frame struct {
	Ref         Point
	EcefToLocal mgl64.Mat4
}

// EnuFrame builds the local frame for a reference point. The rotation rows
// are the East, North and Up unit vectors expressed in ECEF; the
// translation by the negated reference ECEF vector is applied in ECEF
// space before the rotation, so the frame rotates around the reference
// point rather than the Earth's centre.
func EnuFrame(ref Point) Frame {
	origin := ToEcef(ref)
	sinLon, cosLon := math.Sincos(radians(ref.LonDeg))
	sinLat, cosLat := math.Sincos(radians(ref.LatDeg))

	east := mgl64.Vec3{-sinLon, cosLon, 0}
	north := mgl64.Vec3{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	up := mgl64.Vec3{cosLat * cosLon, cosLat * sinLon, sinLat}

	// M = R · T(-origin): rotation rows with translation column R·(-origin).
	m := mgl64.Ident4()
	for col := 0; col < 3; col++ {
		m.Set(0, col, east[col])
		m.Set(1, col, north[col])
		m.Set(2, col, up[col])
	}
	m.Set(0, 3, -east.Dot(origin))
	m.Set(1, 3, -north.Dot(origin))
	m.Set(2, 3, -up.Dot(origin))

	return Frame{Ref: ref, EcefToLocal: m}
}

// ToLocal transforms an ECEF position into the frame.
func (f Frame) ToLocal(ecef mgl64.Vec3) mgl64.Vec3 {
	return f.EcefToLocal.Mul4x1(ecef.Vec4(1)).Vec3()
}

// ToEcef transforms a local-frame position back to ECEF. The transform is
// rigid, so the inverse is the transposed rotation applied before undoing
// the translation.
func (f Frame) ToEcef(local mgl64.Vec3) mgl64.Vec3 {
	var rotated mgl64.Vec3
	for row := 0; row < 3; row++ {
		// Column `row` of the rotation is row `row` transposed.
		rotated[row] = f.EcefToLocal.At(0, row)*local.X() +
			f.EcefToLocal.At(1, row)*local.Y() +
			f.EcefToLocal.At(2, row)*local.Z()
	}
	return rotated.Add(ToEcef(f.Ref))
}
