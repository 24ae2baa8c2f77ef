// Package model holds the plain data types shared across the tile
// streaming engine: tile hierarchy nodes, bounding volumes, camera state
// and streaming budgets. Behaviour lives in the packages that own it;
// these types are state plus cheap derived accessors.
package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// LoadState tracks where a node's content is in its fetch/decode
// lifecycle. Transitions are driven only by the streamer.
type LoadState int

const (
	LoadStateUnloaded LoadState = iota
	LoadStateQueued
	LoadStateFetching
	LoadStateParsing
	LoadStateReady
	LoadStateFailed
)

func (s LoadState) String() string {
	switch s {
	case LoadStateUnloaded:
		return "UNLOADED"
	case LoadStateQueued:
		return "QUEUED"
	case LoadStateFetching:
		return "FETCHING"
	case LoadStateParsing:
		return "PARSING"
	case LoadStateReady:
		return "READY"
	case LoadStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle step: UNLOADED→QUEUED→FETCHING→PARSING→READY, FAILED
// reachable from QUEUED/FETCHING/PARSING, READY→UNLOADED on eviction,
// and FAILED→UNLOADED after the retry cooldown. Cancellation resets
// QUEUED/FETCHING/PARSING back to UNLOADED.
func (s LoadState) CanTransitionTo(next LoadState) bool {
	switch s {
	case LoadStateUnloaded:
		return next == LoadStateQueued
	case LoadStateQueued:
		return next == LoadStateFetching || next == LoadStateFailed || next == LoadStateUnloaded
	case LoadStateFetching:
		return next == LoadStateParsing || next == LoadStateFailed || next == LoadStateUnloaded
	case LoadStateParsing:
		return next == LoadStateReady || next == LoadStateFailed || next == LoadStateUnloaded
	case LoadStateReady:
		return next == LoadStateUnloaded
	case LoadStateFailed:
		return next == LoadStateUnloaded
	default:
		return false
	}
}

// RefineMode is how a parent relates to its children once they render:
// REPLACE swaps the parent out, ADD keeps it alongside.
type RefineMode int

const (
	RefineReplace RefineMode = iota
	RefineAdd
)

func (m RefineMode) String() string {
	if m == RefineAdd {
		return "ADD"
	}
	return "REPLACE"
}

// BoundingBox is an oriented box: a centre plus three half-axis vectors.
type BoundingBox struct {
	Center   mgl64.Vec3
	HalfAxes [3]mgl64.Vec3
}

// BoundingSphere is a centre plus radius in metres.
type BoundingSphere struct {
	Center mgl64.Vec3
	Radius float64
}

// BoundingVolume is a tagged union; exactly one member is non-nil.
// Volumes are authored in the dataset's native frame.
type BoundingVolume struct {
	Box    *BoundingBox
	Sphere *BoundingSphere
}

// Center returns the volume's centre point.
func (bv BoundingVolume) Center() mgl64.Vec3 {
	switch {
	case bv.Sphere != nil:
		return bv.Sphere.Center
	case bv.Box != nil:
		return bv.Box.Center
	default:
		return mgl64.Vec3{}
	}
}

// Radius returns a conservative bounding-sphere radius for the volume.
func (bv BoundingVolume) Radius() float64 {
	switch {
	case bv.Sphere != nil:
		return bv.Sphere.Radius
	case bv.Box != nil:
		r := 0.0
		for _, axis := range bv.Box.HalfAxes {
			r += axis.Dot(axis)
		}
		return math.Sqrt(r)
	default:
		return 0
	}
}

// TileNode is one node of the streamed tile hierarchy. Children are owned
// by their parent and are populated lazily: a content URI ending in .json
// is an external subtree manifest grafted in when the node is first
// refined.
type TileNode struct {
	BoundingVolume BoundingVolume
	GeometricError float64
	Refine         RefineMode

	// ContentURI is the resolved absolute URL of the node's binary
	// content, or empty when the node has none.
	ContentURI string
	// ExternalTileset marks ContentURI as a nested manifest rather than
	// mesh content.
	ExternalTileset bool

	// Transform positions this subtree relative to its parent
	// (column-major in the manifest; identity when absent).
	Transform mgl64.Mat4

	Parent   *TileNode
	Children []*TileNode

	State            LoadState
	LastTouchedFrame uint64
	FailedAtFrame    uint64
	// ContentBytes is the resident size of the decoded content while the
	// node is READY.
	ContentBytes int64
}

// HasRenderableContent reports whether the node references binary mesh
// content (as opposed to no content or a nested manifest).
func (n *TileNode) HasRenderableContent() bool {
	return n.ContentURI != "" && !n.ExternalTileset
}
