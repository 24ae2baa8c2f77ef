package tiles

import (
	"fmt"
	"net/url"
	"strings"
)

// UriResolver resolves a (possibly relative) content reference against
// the URL the referencing manifest was fetched from. It is a first-class
// seam: datasets with unusual URL schemes can swap in their own resolver
// instead of anyone patching library internals.
type UriResolver interface {
	Resolve(base *url.URL, ref string) (*url.URL, error)
}

// PercentEncodingResolver resolves references the standard way and always
// percent-encodes path segments first, so URIs carrying spaces, Cyrillic
// or other reserved characters survive the round trip to the tile server.
type PercentEncodingResolver struct{}

// Resolve implements UriResolver.
func (PercentEncodingResolver) Resolve(base *url.URL, ref string) (*url.URL, error) {
	if base == nil {
		return nil, fmt.Errorf("resolve %q: nil base URL", ref)
	}
	if ref == "" {
		return nil, fmt.Errorf("resolve: empty reference")
	}

	path, query, hasQuery := strings.Cut(ref, "?")

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		// Normalise pre-encoded segments so they are not encoded twice.
		if decoded, err := url.PathUnescape(seg); err == nil {
			seg = decoded
		}
		segments[i] = url.PathEscape(seg)
	}

	encoded := strings.Join(segments, "/")
	if hasQuery {
		encoded += "?" + query
	}

	u, err := url.Parse(encoded)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return base.ResolveReference(u), nil
}
