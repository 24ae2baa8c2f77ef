package compositor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/skylinemaps/tilebridge/geodetic"
	"github.com/skylinemaps/tilebridge/model"
	"github.com/skylinemaps/tilebridge/scene"
	"github.com/skylinemaps/tilebridge/tiles"
)

type fakeHost struct {
	frame   HostFrame
	frameOK bool
	model   mgl64.Mat4
	modelOK bool
}

func (h *fakeHost) Frame() (HostFrame, bool)                      { return h.frame, h.frameOK }
func (h *fakeHost) ModelMatrix(geodetic.Point) (mgl64.Mat4, bool) { return h.model, h.modelOK }

type recordingRenderer struct {
	calls          int
	worldFromLocal mgl64.Mat4
	cam            model.CameraState
}

func (r *recordingRenderer) Render(_ *scene.Node, worldFromLocal mgl64.Mat4, cam model.CameraState) {
	r.calls++
	r.worldFromLocal = worldFromLocal
	r.cam = cam
}

var testRef = geodetic.Point{LonDeg: 47.171, LatDeg: 55.770, AltMeters: 115}

func workingHost() *fakeHost {
	return &fakeHost{
		frame: HostFrame{
			CameraPositionEcef: geodetic.ToEcef(testRef).Add(mgl64.Vec3{0, 0, 1000}),
			ViewProjection:     mgl64.Perspective(math.Pi/3, 16.0/9, 1, 1e6),
			ViewportWidth:      1920,
			ViewportHeight:     1080,
			FovYRadians:        math.Pi / 3,
		},
		frameOK: true,
		model:   mgl64.Ident4(),
		modelOK: true,
	}
}

func newCompositor(host Host, renderer Renderer, heightOffset float64) *Compositor {
	return New(Config{
		Streamer:     tiles.New(tiles.Config{}),
		Host:         host,
		Renderer:     renderer,
		HeightOffset: heightOffset,
	})
}

func TestRenderFrameRequiresReference(t *testing.T) {
	c := newCompositor(workingHost(), &recordingRenderer{}, 0)
	if err := c.RenderFrame(context.Background()); !errors.Is(err, ErrNoReference) {
		t.Fatalf("error = %v, want ErrNoReference", err)
	}
}

func TestSetReferenceValidates(t *testing.T) {
	c := newCompositor(workingHost(), &recordingRenderer{}, 0)
	if err := c.SetReference(geodetic.Point{LatDeg: 95}); err == nil {
		t.Error("invalid reference accepted")
	}
	if _, ok := c.Reference(); ok {
		t.Error("invalid reference recorded")
	}

	if err := c.SetReference(testRef); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Reference(); !ok || got != testRef {
		t.Errorf("Reference() = %+v, %v", got, ok)
	}
}

func TestRenderFrameSkips(t *testing.T) {
	host := workingHost()
	renderer := &recordingRenderer{}
	c := newCompositor(host, renderer, 0)
	if err := c.SetReference(testRef); err != nil {
		t.Fatal(err)
	}

	// Host not ready.
	host.frameOK = false
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.FramesSkipped() != 1 || renderer.calls != 0 {
		t.Fatalf("skipped=%d calls=%d after unavailable host frame", c.FramesSkipped(), renderer.calls)
	}

	// Malformed camera.
	host.frameOK = true
	host.frame.ViewportHeight = 0
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.FramesSkipped() != 2 || renderer.calls != 0 {
		t.Fatalf("skipped=%d calls=%d after malformed camera", c.FramesSkipped(), renderer.calls)
	}

	// Host cannot place the reference.
	host.frame.ViewportHeight = 1080
	host.modelOK = false
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.FramesSkipped() != 3 || renderer.calls != 0 {
		t.Fatalf("skipped=%d calls=%d after unavailable model matrix", c.FramesSkipped(), renderer.calls)
	}

	// Non-finite model matrix.
	host.modelOK = true
	host.model[0] = math.NaN()
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.FramesSkipped() != 4 || renderer.calls != 0 {
		t.Fatalf("skipped=%d calls=%d after non-finite model matrix", c.FramesSkipped(), renderer.calls)
	}

	// Recovered.
	host.model = mgl64.Ident4()
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if renderer.calls != 1 {
		t.Fatalf("renderer calls = %d after recovery, want 1", renderer.calls)
	}
	if c.FramesSkipped() != 4 {
		t.Errorf("skipped = %d, want unchanged 4", c.FramesSkipped())
	}
}

// The composed transform must place the reference point at the host
// model's origin, shifted by the height offset along local up.
func TestRenderFrameTransformComposition(t *testing.T) {
	host := workingHost()
	host.model = mgl64.Translate3D(7, 0, 0)
	renderer := &recordingRenderer{}
	c := newCompositor(host, renderer, 2.5)
	if err := c.SetReference(testRef); err != nil {
		t.Fatal(err)
	}
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if renderer.calls != 1 {
		t.Fatal("renderer not called")
	}

	refEcef := geodetic.ToEcef(testRef).Vec4(1)
	got := renderer.worldFromLocal.Mul4x1(refEcef).Vec3()
	want := mgl64.Vec3{7, 0, 2.5}
	if got.Sub(want).Len() > 1e-6 {
		t.Errorf("reference maps to %v, want %v", got, want)
	}

	// A point 100 m above the reference stays 100 m up in local space
	// before the host model applies.
	above := testRef
	above.AltMeters += 100
	got = renderer.worldFromLocal.Mul4x1(geodetic.ToEcef(above).Vec4(1)).Vec3()
	want = mgl64.Vec3{7, 0, 102.5}
	if got.Sub(want).Len() > 1e-4 {
		t.Errorf("elevated point maps to %v, want %v", got, want)
	}
}

func TestSetHeightOffset(t *testing.T) {
	host := workingHost()
	renderer := &recordingRenderer{}
	c := newCompositor(host, renderer, 0)
	if err := c.SetReference(testRef); err != nil {
		t.Fatal(err)
	}

	c.SetHeightOffset(10)
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := renderer.worldFromLocal.Mul4x1(geodetic.ToEcef(testRef).Vec4(1)).Vec3()
	if got.Sub(mgl64.Vec3{0, 0, 10}).Len() > 1e-6 {
		t.Errorf("reference maps to %v, want (0, 0, 10)", got)
	}
}

func TestRenderFrameForwardsCamera(t *testing.T) {
	host := workingHost()
	renderer := &recordingRenderer{}
	c := newCompositor(host, renderer, 0)
	if err := c.SetReference(testRef); err != nil {
		t.Fatal(err)
	}
	if err := c.RenderFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if renderer.cam.PositionEcef != host.frame.CameraPositionEcef {
		t.Error("camera position not forwarded to the renderer")
	}
	if renderer.cam.ViewProjection != host.frame.ViewProjection {
		t.Error("view-projection not forwarded to the renderer")
	}
}
