package tiles

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/skylinemaps/tilebridge/scene"
)

// ErrMalformedContent is returned for binary tile content that fails
// envelope validation: bad magic bytes, inconsistent chunk lengths,
// truncated payloads.
var ErrMalformedContent = errors.New("malformed tile content")

const (
	b3dmHeaderLen = 28
	glbHeaderLen  = 12
)

var (
	b3dmMagic    = []byte("b3dm")
	glbMagic     = []byte("glTF")
	glbChunkJSON = []byte("JSON")
	glbChunkBin  = []byte("BIN\x00")
)

// B3dm is a decoded b3dm envelope: feature table, optional batch table,
// and the embedded binary glTF payload.
type B3dm struct {
	Version          uint32
	FeatureTableJSON []byte
	FeatureTableBin  []byte
	BatchTableJSON   []byte
	BatchTableBin    []byte
	Glb              []byte
}

// ParseB3dm validates and splits a b3dm chunk. The 28-byte header carries
// the magic, version, total byte length, and the four table lengths; the
// glTF payload is everything after the tables.
func ParseB3dm(data []byte) (*B3dm, error) {
	if len(data) < b3dmHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the b3dm header", ErrMalformedContent, len(data))
	}
	if !bytes.Equal(data[0:4], b3dmMagic) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedContent, data[0:4])
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version != 1 {
		return nil, fmt.Errorf("%w: unsupported b3dm version %d", ErrMalformedContent, version)
	}

	byteLength := binary.LittleEndian.Uint32(data[8:12])
	if int(byteLength) != len(data) {
		return nil, fmt.Errorf("%w: header claims %d bytes, have %d", ErrMalformedContent, byteLength, len(data))
	}

	ftJSONLen := int(binary.LittleEndian.Uint32(data[12:16]))
	ftBinLen := int(binary.LittleEndian.Uint32(data[16:20]))
	btJSONLen := int(binary.LittleEndian.Uint32(data[20:24]))
	btBinLen := int(binary.LittleEndian.Uint32(data[24:28]))

	tablesEnd := b3dmHeaderLen + ftJSONLen + ftBinLen + btJSONLen + btBinLen
	if tablesEnd > len(data) {
		return nil, fmt.Errorf("%w: table lengths overrun the chunk", ErrMalformedContent)
	}
	if tablesEnd == len(data) {
		return nil, fmt.Errorf("%w: missing glTF payload", ErrMalformedContent)
	}

	offset := b3dmHeaderLen
	next := func(n int) []byte {
		part := data[offset : offset+n]
		offset += n
		return part
	}

	return &B3dm{
		Version:          version,
		FeatureTableJSON: next(ftJSONLen),
		FeatureTableBin:  next(ftBinLen),
		BatchTableJSON:   next(btJSONLen),
		BatchTableBin:    next(btBinLen),
		Glb:              data[tablesEnd:],
	}, nil
}

// GlbChunks is the JSON and binary chunk of a binary glTF container.
type GlbChunks struct {
	JSON []byte
	Bin  []byte
}

// ParseGlb walks a binary glTF container: 12-byte header, then chunks of
// (length, type, body) padded to 4-byte alignment.
func ParseGlb(data []byte) (*GlbChunks, error) {
	if len(data) < glbHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the glTF header", ErrMalformedContent, len(data))
	}
	if !bytes.Equal(data[0:4], glbMagic) {
		return nil, fmt.Errorf("%w: bad glTF magic %q", ErrMalformedContent, data[0:4])
	}
	if total := binary.LittleEndian.Uint32(data[8:12]); int(total) != len(data) {
		return nil, fmt.Errorf("%w: glTF header claims %d bytes, have %d", ErrMalformedContent, total, len(data))
	}

	var chunks GlbChunks
	offset := glbHeaderLen
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated glTF chunk header", ErrMalformedContent)
		}
		chunkLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		chunkType := data[offset+4 : offset+8]
		if offset+8+chunkLen > len(data) {
			return nil, fmt.Errorf("%w: glTF chunk overruns the container", ErrMalformedContent)
		}
		body := data[offset+8 : offset+8+chunkLen]

		switch {
		case bytes.Equal(chunkType, glbChunkJSON):
			chunks.JSON = body
		case bytes.Equal(chunkType, glbChunkBin):
			chunks.Bin = body
		}

		offset += 8 + chunkLen
		offset += (4 - chunkLen%4) % 4
	}

	if chunks.JSON == nil {
		return nil, fmt.Errorf("%w: glTF container without a JSON chunk", ErrMalformedContent)
	}
	return &chunks, nil
}

// MeshPayload is what the default decoder attaches to the scene graph: a
// validated mesh payload with its byte accounting. Embedders that render
// for real swap in a decoder producing actual geometry.
type MeshPayload struct {
	SourceBytes int64
	GlbJSON     []byte
	GlbBin      []byte
}

// ByteSize implements scene.Payload.
func (p *MeshPayload) ByteSize() int64 { return p.SourceBytes }

// MeshDecoder turns fetched tile bytes into a scene graph node. Decode
// runs off the frame thread; the returned node is attached to the scene
// graph only on the frame thread. The int64 result is the resident byte
// size charged against the streaming budget.
type MeshDecoder interface {
	Decode(ctx context.Context, data []byte) (*scene.Node, int64, error)
}

// GlbDecoder is the default MeshDecoder: it validates the b3dm envelope
// (or a bare binary glTF) and produces a node holding the mesh chunks.
type GlbDecoder struct{}

// Decode implements MeshDecoder.
func (GlbDecoder) Decode(_ context.Context, data []byte) (*scene.Node, int64, error) {
	var glb []byte
	switch {
	case len(data) >= 4 && bytes.Equal(data[0:4], b3dmMagic):
		parsed, err := ParseB3dm(data)
		if err != nil {
			return nil, 0, err
		}
		glb = parsed.Glb
	case len(data) >= 4 && bytes.Equal(data[0:4], glbMagic):
		glb = data
	default:
		return nil, 0, fmt.Errorf("%w: unrecognised content magic", ErrMalformedContent)
	}

	chunks, err := ParseGlb(glb)
	if err != nil {
		return nil, 0, err
	}

	node := scene.NewNode()
	node.Payload = &MeshPayload{
		SourceBytes: int64(len(data)),
		GlbJSON:     chunks.JSON,
		GlbBin:      chunks.Bin,
	}
	return node, int64(len(data)), nil
}
