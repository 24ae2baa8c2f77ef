// Package compositor glues the tile streaming engine to a host map
// renderer. Once per host-driven paint it mirrors the host camera,
// recomputes the ECEF→ENU→host-world transform, updates the streamer,
// and renders the tile scene graph for the host to composite.
package compositor

import (
	"context"
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/skylinemaps/tilebridge/geodetic"
	"github.com/skylinemaps/tilebridge/internal/logging"
	"github.com/skylinemaps/tilebridge/internal/observability"
	"github.com/skylinemaps/tilebridge/model"
	"github.com/skylinemaps/tilebridge/scene"
	"github.com/skylinemaps/tilebridge/tiles"
)

// ErrNoReference is returned by RenderFrame before a reference point has
// been set.
var ErrNoReference = errors.New("no reference point set")

// HostFrame is the host renderer's camera state for one paint, read-only
// from the engine's point of view.
type HostFrame struct {
	CameraPositionEcef mgl64.Vec3
	ViewProjection     mgl64.Mat4
	ViewportWidth      int
	ViewportHeight     int
	FovYRadians        float64
}

// Host is the contract with the host map renderer: per-frame camera
// state, and the host's own model matrix for placing a geodetic
// reference point into its world.
type Host interface {
	// Frame returns the camera state for the current paint. ok=false
	// while the host is initialising; that frame is skipped.
	Frame() (HostFrame, bool)
	// ModelMatrix converts a geodetic reference point into the host's
	// world-space model matrix at that point. ok=false when the host
	// cannot produce one yet.
	ModelMatrix(ref geodetic.Point) (mgl64.Mat4, bool)
}

// Renderer draws the tile scene graph into the host-provided graphics
// context. The camera transform is fully encoded in cam.ViewProjection;
// implementations must keep their own camera at identity, because
// applying a camera transform a second time mislocates all geometry.
type Renderer interface {
	Render(root *scene.Node, worldFromLocal mgl64.Mat4, cam model.CameraState)
}

// Compositor runs the per-frame protocol. Not safe for concurrent use;
// drive it from the host's paint callback only.
type Compositor struct {
	log      logging.Logger
	streamer *tiles.Streamer
	host     Host
	renderer Renderer
	metrics  *observability.StreamerCollector

	heightOffset float64

	ref      geodetic.Point
	haveRef  bool
	frame    geodetic.Frame
	haveFrame bool

	framesSkipped uint64
}

// Config assembles a Compositor.
type Config struct {
	Logger   logging.Logger
	Streamer *tiles.Streamer
	Host     Host
	Renderer Renderer
	Metrics  *observability.StreamerCollector
	// HeightOffset shifts the tile group along the local up axis
	// (metres). Explicit per-dataset configuration; no base-height
	// heuristics are derived from bounding volumes.
	HeightOffset float64
}

// New constructs a Compositor.
func New(cfg Config) *Compositor {
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	return &Compositor{
		log:          cfg.Logger,
		streamer:     cfg.Streamer,
		host:         cfg.Host,
		renderer:     cfg.Renderer,
		metrics:      cfg.Metrics,
		heightOffset: cfg.HeightOffset,
	}
}

// SetReference sets the dataset's reference point. The ENU frame is
// rebuilt lazily on the next frame only when the point actually changed,
// so a model switch pays the trigonometry once, not every paint.
func (c *Compositor) SetReference(ref geodetic.Point) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if c.haveRef && ref == c.ref {
		return nil
	}
	c.ref = ref
	c.haveRef = true
	c.haveFrame = false
	return nil
}

// SetHeightOffset updates the vertical alignment offset (metres).
func (c *Compositor) SetHeightOffset(offset float64) {
	c.heightOffset = offset
}

// RenderFrame runs one paint: read the host camera, rebuild the local
// frame if the reference moved, compose the render transform, update the
// streamer, and render. A malformed or unavailable host camera skips the
// frame rather than rendering with stale or identity matrices.
func (c *Compositor) RenderFrame(ctx context.Context) error {
	if !c.haveRef {
		return ErrNoReference
	}
	if c.metrics != nil {
		c.metrics.FramesTotal.Inc()
	}

	hf, ok := c.host.Frame()
	if !ok {
		c.skip(ctx, "host frame unavailable")
		return nil
	}

	cam := model.CameraState{
		PositionEcef:   hf.CameraPositionEcef,
		ViewProjection: hf.ViewProjection,
		ViewportWidth:  hf.ViewportWidth,
		ViewportHeight: hf.ViewportHeight,
		FovYRadians:    hf.FovYRadians,
	}
	if !cam.Valid() {
		c.skip(ctx, "malformed host camera state")
		return nil
	}

	if !c.haveFrame {
		c.frame = geodetic.EnuFrame(c.ref)
		c.haveFrame = true
		c.log.Debug(ctx, "local frame rebuilt",
			logging.Float64("lon", c.ref.LonDeg),
			logging.Float64("lat", c.ref.LatDeg))
	}

	hostModel, ok := c.host.ModelMatrix(c.ref)
	if !ok || !finiteMat(hostModel) {
		c.skip(ctx, "host model matrix unavailable")
		return nil
	}

	// First ECEF→local tangent frame, then the vertical alignment
	// offset, then the host's own placement of that frame in its world.
	worldFromLocal := hostModel.
		Mul4(mgl64.Translate3D(0, 0, c.heightOffset)).
		Mul4(c.frame.EcefToLocal)

	c.streamer.Update(cam)
	if c.renderer != nil {
		c.renderer.Render(c.streamer.Scene(), worldFromLocal, cam)
	}
	return nil
}

// FramesSkipped reports how many frames were dropped for unusable host
// camera state.
func (c *Compositor) FramesSkipped() uint64 { return c.framesSkipped }

// Reference returns the active reference point.
func (c *Compositor) Reference() (geodetic.Point, bool) { return c.ref, c.haveRef }

func (c *Compositor) skip(ctx context.Context, reason string) {
	c.framesSkipped++
	if c.metrics != nil {
		c.metrics.FramesSkippedTotal.Inc()
	}
	c.log.Debug(ctx, "frame skipped", logging.String("reason", reason))
}

func finiteMat(m mgl64.Mat4) bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
