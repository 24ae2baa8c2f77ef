package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// CameraState mirrors the host renderer's camera for one frame. It is
// rebuilt every paint and never persisted. The view-projection matrix is
// the single source of truth for the camera transform: the internal
// renderer's own camera stays at identity so the transform is never
// applied twice.
type CameraState struct {
	PositionEcef   mgl64.Vec3
	ViewProjection mgl64.Mat4
	ViewportWidth  int
	ViewportHeight int
	FovYRadians    float64
}

// Valid reports whether the state is usable for a frame: finite matrices,
// a non-degenerate projection and a real viewport. Frames with invalid
// camera state are skipped rather than rendered with stale matrices.
func (c CameraState) Valid() bool {
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return false
	}
	if c.FovYRadians <= 0 || c.FovYRadians >= math.Pi {
		return false
	}
	for _, v := range c.ViewProjection {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, v := range c.PositionEcef {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.ViewProjection.Det() != 0
}

// StreamingBudget bounds what the streamer may hold in flight and
// resident at once. Process-wide per tileset; mutated only by the
// streamer.
type StreamingBudget struct {
	MaxConcurrentRequests int64
	MaxResidentBytes      int64
}

// DatasetOptions are the per-dataset knobs of the streaming engine.
type DatasetOptions struct {
	// HeightOffset shifts the whole tile group vertically (metres, local
	// up axis). Explicit per-dataset configuration replaces the base
	// height heuristics of earlier systems.
	HeightOffset float64

	// SSEThresholdPx is the screen-space error (pixels) above which a
	// node refines into its children.
	SSEThresholdPx float64

	// EvictAfterFrames is how many frames a READY node may go untouched
	// before its content is reclaimed.
	EvictAfterFrames uint64

	// RetryCooldownFrames is how long a FAILED node waits before a
	// re-selection may retry its fetch.
	RetryCooldownFrames uint64
}

// WithDefaults fills unset options with the engine defaults.
func (o DatasetOptions) WithDefaults() DatasetOptions {
	if o.SSEThresholdPx <= 0 {
		o.SSEThresholdPx = 16
	}
	if o.EvictAfterFrames == 0 {
		o.EvictAfterFrames = 60
	}
	if o.RetryCooldownFrames == 0 {
		o.RetryCooldownFrames = 120
	}
	return o
}
