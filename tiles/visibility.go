package tiles

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/skylinemaps/tilebridge/model"
)

// VisibilityPolicy decides whether a node's bounding volume is considered
// in view for the current frame. The as-built system shipped with culling
// disabled, leaning on the request budget to bound load; that behaviour
// is AlwaysVisible here, as an explicit injected policy rather than a
// patched dependency.
type VisibilityPolicy interface {
	Visible(bv model.BoundingVolume, cam model.CameraState) bool
}

// AlwaysVisible treats every node as in view.
type AlwaysVisible struct{}

// Visible implements VisibilityPolicy.
func (AlwaysVisible) Visible(model.BoundingVolume, model.CameraState) bool { return true }

// FrustumTest culls against the six planes extracted from the camera's
// view-projection matrix. Whenever a test cannot be decided precisely —
// a degenerate volume, a non-finite radius, a near-singular matrix — the
// node is conservatively treated as visible rather than culled.
type FrustumTest struct{}

// Visible implements VisibilityPolicy.
func (FrustumTest) Visible(bv model.BoundingVolume, cam model.CameraState) bool {
	center := bv.Center()
	radius := bv.Radius()
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return true
	}
	for _, v := range center {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}

	for _, p := range frustumPlanes(cam.ViewProjection) {
		n := mgl64.Vec3{p[0], p[1], p[2]}
		length := n.Len()
		if length < 1e-12 || math.IsNaN(length) {
			return true
		}
		// Signed distance from the sphere centre to the plane; fully
		// outside one plane means fully outside the frustum.
		if (n.Dot(center)+p[3])/length < -radius {
			return false
		}
	}
	return true
}

// frustumPlanes extracts the six clip planes (left, right, bottom, top,
// near, far) from a view-projection matrix as ax+by+cz+d >= 0 half-spaces.
func frustumPlanes(vp mgl64.Mat4) [6]mgl64.Vec4 {
	row := func(i int) mgl64.Vec4 {
		return mgl64.Vec4{vp.At(i, 0), vp.At(i, 1), vp.At(i, 2), vp.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	return [6]mgl64.Vec4{
		r3.Add(r0),     // left
		r3.Sub(r0),     // right
		r3.Add(r1),     // bottom
		r3.Sub(r1),     // top
		r3.Add(r2),     // near
		r3.Sub(r2),     // far
	}
}
