package tiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/skylinemaps/tilebridge/model"
)

// ErrBadManifest is returned for structurally invalid tile manifests.
var ErrBadManifest = errors.New("bad tile manifest")

// Internal JSON shapes. Kept unexported so the wire format can evolve
// without leaking into the model types.
type tilesetJSON struct {
	Asset          assetJSON `json:"asset"`
	GeometricError float64   `json:"geometricError"`
	Root           *tileJSON `json:"root"`
}

type assetJSON struct {
	Version string `json:"version"`
}

type tileJSON struct {
	BoundingVolume boundingVolumeJSON `json:"boundingVolume"`
	GeometricError float64            `json:"geometricError"`
	Refine         string             `json:"refine"`
	Transform      []float64          `json:"transform"`
	Content        *contentJSON       `json:"content"`
	Children       []tileJSON         `json:"children"`
}

type contentJSON struct {
	URI string `json:"uri"`
	// Pre-1.0 tilesets name the field "url".
	URL string `json:"url"`
}

type boundingVolumeJSON struct {
	Box    []float64 `json:"box"`
	Sphere []float64 `json:"sphere"`
	Region []float64 `json:"region"`
}

// ParseTileset reads a tile manifest and builds the TileNode hierarchy it
// describes. Content URIs are resolved against baseURL — the manifest's
// own fetch location, never a fixed base — via resolver. Nodes for
// external sub-manifests are created lazily when first refined, so the
// returned tree covers this document only.
//
// The returned warnings are tolerated authoring problems (non-monotonic
// geometric error, negative error values); they do not fail the parse.
func ParseTileset(r io.Reader, baseURL *url.URL, resolver UriResolver) (*model.TileNode, []string, error) {
	if resolver == nil {
		resolver = PercentEncodingResolver{}
	}

	var doc tilesetJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	if doc.Root == nil {
		return nil, nil, fmt.Errorf("%w: missing root tile", ErrBadManifest)
	}

	var warnings []string
	root, err := buildTile(*doc.Root, nil, baseURL, resolver, &warnings)
	if err != nil {
		return nil, nil, err
	}
	return root, warnings, nil
}

func buildTile(j tileJSON, parent *model.TileNode, baseURL *url.URL, resolver UriResolver, warnings *[]string) (*model.TileNode, error) {
	bv, err := parseBoundingVolume(j.BoundingVolume)
	if err != nil {
		return nil, err
	}

	refine, err := parseRefine(j.Refine, parent)
	if err != nil {
		return nil, err
	}

	geomErr := j.GeometricError
	if geomErr < 0 {
		*warnings = append(*warnings, fmt.Sprintf("negative geometricError %v clamped to 0", geomErr))
		geomErr = 0
	}
	if parent != nil && geomErr > parent.GeometricError {
		*warnings = append(*warnings, fmt.Sprintf(
			"geometricError %v exceeds parent's %v; refinement assumes non-increasing error",
			geomErr, parent.GeometricError))
	}

	node := &model.TileNode{
		BoundingVolume: bv,
		GeometricError: geomErr,
		Refine:         refine,
		Transform:      parseTransform(j.Transform),
		Parent:         parent,
	}

	if j.Content != nil {
		ref := j.Content.URI
		if ref == "" {
			ref = j.Content.URL
		}
		if ref != "" {
			resolved, err := resolver.Resolve(baseURL, ref)
			if err != nil {
				return nil, fmt.Errorf("%w: content uri: %v", ErrBadManifest, err)
			}
			node.ContentURI = resolved.String()
			node.ExternalTileset = strings.HasSuffix(strings.ToLower(resolved.Path), ".json")
		}
	}

	for _, cj := range j.Children {
		child, err := buildTile(cj, node, baseURL, resolver, warnings)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

func parseBoundingVolume(j boundingVolumeJSON) (model.BoundingVolume, error) {
	switch {
	case len(j.Box) > 0:
		if len(j.Box) != 12 {
			return model.BoundingVolume{}, fmt.Errorf("%w: box wants 12 floats, got %d", ErrBadManifest, len(j.Box))
		}
		box := &model.BoundingBox{
			Center: mgl64.Vec3{j.Box[0], j.Box[1], j.Box[2]},
		}
		for i := 0; i < 3; i++ {
			box.HalfAxes[i] = mgl64.Vec3{j.Box[3+i*3], j.Box[4+i*3], j.Box[5+i*3]}
		}
		return model.BoundingVolume{Box: box}, nil
	case len(j.Sphere) > 0:
		if len(j.Sphere) != 4 {
			return model.BoundingVolume{}, fmt.Errorf("%w: sphere wants 4 floats, got %d", ErrBadManifest, len(j.Sphere))
		}
		return model.BoundingVolume{Sphere: &model.BoundingSphere{
			Center: mgl64.Vec3{j.Sphere[0], j.Sphere[1], j.Sphere[2]},
			Radius: j.Sphere[3],
		}}, nil
	case len(j.Region) > 0:
		return model.BoundingVolume{}, fmt.Errorf("%w: region bounding volumes are not supported", ErrBadManifest)
	default:
		return model.BoundingVolume{}, fmt.Errorf("%w: tile without bounding volume", ErrBadManifest)
	}
}

func parseRefine(raw string, parent *model.TileNode) (model.RefineMode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ADD":
		return model.RefineAdd, nil
	case "REPLACE":
		return model.RefineReplace, nil
	case "":
		// Inherited from the parent; the root defaults to REPLACE.
		if parent != nil {
			return parent.Refine, nil
		}
		return model.RefineReplace, nil
	default:
		return 0, fmt.Errorf("%w: unknown refine mode %q", ErrBadManifest, raw)
	}
}

func parseTransform(raw []float64) mgl64.Mat4 {
	if len(raw) != 16 {
		return mgl64.Ident4()
	}
	var m mgl64.Mat4
	copy(m[:], raw) // manifest transforms are column-major, as is mgl64
	return m
}
