// tilebridge-sim drives the tile streaming engine headlessly: it loads a
// tileset manifest, orbits a synthetic camera around a reference point,
// and reports selection and fetch statistics. Useful for soak-testing a
// tile server and for watching streamer behaviour without a host
// renderer.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skylinemaps/tilebridge/compositor"
	"github.com/skylinemaps/tilebridge/frameclock"
	"github.com/skylinemaps/tilebridge/geodetic"
	"github.com/skylinemaps/tilebridge/internal/logging"
	"github.com/skylinemaps/tilebridge/internal/observability"
	"github.com/skylinemaps/tilebridge/model"
	"github.com/skylinemaps/tilebridge/scene"
	"github.com/skylinemaps/tilebridge/tiles"
)

func main() {
	tilesetURL := flag.String("tileset", "", "URL of the tileset manifest to stream")
	refLon := flag.Float64("ref-lon", 47.171, "reference point longitude (degrees)")
	refLat := flag.Float64("ref-lat", 55.770, "reference point latitude (degrees)")
	refAlt := flag.Float64("ref-alt", 115, "reference point altitude (metres)")
	heightOffset := flag.Float64("height-offset", 0, "vertical alignment offset for the dataset (metres)")
	frames := flag.Int("frames", 600, "number of frames to run (<=0 runs until interrupted)")
	fps := flag.Int("fps", 30, "frame rate in real-time mode")
	accelerated := flag.Bool("accelerated", false, "run frames back to back instead of real time")
	orbitRadius := flag.Float64("orbit-radius", 1500, "camera orbit radius around the reference point (metres)")
	maxRequests := flag.Int64("max-requests", 6, "maximum concurrent tile requests")
	maxResidentMB := flag.Int64("max-resident-mb", 256, "resident content budget (MiB)")
	sseThreshold := flag.Float64("sse-threshold", 16, "screen-space error refinement threshold (pixels)")
	frustumCulling := flag.Bool("frustum-culling", false, "enable frustum culling (default mirrors the always-visible policy)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (empty disables)")
	logEvery := flag.Int("log-every", 30, "log streaming stats every N frames")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *tilesetURL == "" {
		fmt.Fprintln(os.Stderr, "missing required -tileset URL")
		flag.Usage()
		os.Exit(2)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.Err(err))
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	registry := prometheus.NewRegistry()
	collector, err := observability.NewStreamerCollector(registry)
	if err != nil {
		log.Error(ctx, "metrics init failed", logging.Err(err))
		os.Exit(1)
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(ctx, "metrics server failed", logging.Err(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info(ctx, "serving metrics", logging.String("addr", *metricsAddr))
	}

	var policy tiles.VisibilityPolicy = tiles.AlwaysVisible{}
	if *frustumCulling {
		policy = tiles.FrustumTest{}
	}

	streamer := tiles.New(tiles.Config{
		Logger:     logging.WithDataset(log, *tilesetURL),
		Visibility: policy,
		Metrics:    collector,
		Budget: model.StreamingBudget{
			MaxConcurrentRequests: *maxRequests,
			MaxResidentBytes:      *maxResidentMB << 20,
		},
		Options: model.DatasetOptions{
			SSEThresholdPx: *sseThreshold,
			HeightOffset:   *heightOffset,
		},
	})
	defer streamer.Close()

	streamer.Subscribe(func(ev tiles.Event) {
		switch ev.Type {
		case tiles.EventNodeFailed:
			log.Warn(ctx, "tile failed", logging.String("uri", ev.URI), logging.Err(ev.Err))
		case tiles.EventManifestWarning:
			log.Warn(ctx, "manifest warning", logging.String("detail", ev.Message))
		}
	})

	ref := geodetic.Point{LonDeg: *refLon, LatDeg: *refLat, AltMeters: *refAlt}
	if err := ref.Validate(); err != nil {
		log.Error(ctx, "bad reference point", logging.Err(err))
		os.Exit(2)
	}

	host := newOrbitHost(ref, *orbitRadius)
	renderer := &countingRenderer{}

	comp := compositor.New(compositor.Config{
		Logger:       log,
		Streamer:     streamer,
		Host:         host,
		Renderer:     renderer,
		Metrics:      collector,
		HeightOffset: *heightOffset,
	})
	if err := comp.SetReference(ref); err != nil {
		log.Error(ctx, "bad reference point", logging.Err(err))
		os.Exit(2)
	}

	if err := streamer.SwitchDataset(ctx, *tilesetURL); err != nil {
		log.Error(ctx, "tileset load failed", logging.Err(err))
		os.Exit(1)
	}

	mode := frameclock.RealTime
	if *accelerated {
		mode = frameclock.Accelerated
	}
	clock := frameclock.New(time.Second/time.Duration(max(*fps, 1)), mode)
	clock.OnFrame(func(frame uint64) {
		host.Advance(frame)
		if err := comp.RenderFrame(ctx); err != nil {
			log.Error(ctx, "frame failed", logging.Err(err))
		}
		if *logEvery > 0 && frame%uint64(*logEvery) == 0 {
			snap := streamer.Snapshot()
			log.Info(ctx, "streaming stats",
				logging.Uint64("frame", frame),
				logging.Int("visible_nodes", renderer.lastVisible),
				logging.Uint64("fetch_ok", snap.FetchesOK),
				logging.Uint64("fetch_failed", snap.FetchesFailed),
				logging.Uint64("evictions", snap.Evictions),
				logging.Int64("resident_bytes", snap.ResidentBytes),
				logging.Int64("in_flight", snap.InFlight),
				logging.Uint64("frames_skipped", comp.FramesSkipped()),
			)
		}
	})

	if err := clock.Run(ctx, *frames); err != nil && ctx.Err() == nil {
		log.Error(ctx, "frame loop failed", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "done", logging.Uint64("frames", streamer.Frame()))
}

// orbitHost is a synthetic Host whose world space is the dataset's local
// ENU frame: its model matrix is the identity, and the camera circles the
// reference point.
type orbitHost struct {
	frame  geodetic.Frame
	radius float64

	eyeLocal mgl64.Vec3
	vp       mgl64.Mat4
}

const (
	viewportW = 1920
	viewportH = 1080
	fovY      = 60 * math.Pi / 180
)

func newOrbitHost(ref geodetic.Point, radius float64) *orbitHost {
	h := &orbitHost{frame: geodetic.EnuFrame(ref), radius: radius}
	h.Advance(0)
	return h
}

// Advance moves the camera along its orbit for the given frame.
func (h *orbitHost) Advance(frame uint64) {
	angle := float64(frame) * 0.01
	h.eyeLocal = mgl64.Vec3{
		h.radius * math.Cos(angle),
		h.radius * math.Sin(angle),
		h.radius * 0.4,
	}
	view := mgl64.LookAtV(h.eyeLocal, mgl64.Vec3{}, mgl64.Vec3{0, 0, 1})
	proj := mgl64.Perspective(fovY, float64(viewportW)/float64(viewportH), 1, 1e7)
	h.vp = proj.Mul4(view)
}

func (h *orbitHost) Frame() (compositor.HostFrame, bool) {
	return compositor.HostFrame{
		CameraPositionEcef: h.frame.ToEcef(h.eyeLocal),
		ViewProjection:     h.vp,
		ViewportWidth:      viewportW,
		ViewportHeight:     viewportH,
		FovYRadians:        fovY,
	}, true
}

func (h *orbitHost) ModelMatrix(geodetic.Point) (mgl64.Mat4, bool) {
	return mgl64.Ident4(), true
}

// countingRenderer tallies visible scene nodes instead of drawing them.
type countingRenderer struct {
	lastVisible int
}

func (r *countingRenderer) Render(root *scene.Node, _ mgl64.Mat4, _ model.CameraState) {
	count := 0
	root.Visit(func(n *scene.Node, _ mgl64.Mat4) bool {
		if n.Visible && n.Payload != nil {
			count++
		}
		return true
	})
	r.lastVisible = count
}
