package tiles

import (
	"net/url"
	"testing"
)

func TestPercentEncodingResolver(t *testing.T) {
	base, err := url.Parse("http://tiles.example/models/kanash/tileset.json")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		ref  string
		want string
	}{
		{
			name: "plain relative",
			ref:  "tile_0.b3dm",
			want: "http://tiles.example/models/kanash/tile_0.b3dm",
		},
		{
			name: "space in segment",
			ref:  "m Vostochniy 42.b3dm",
			want: "http://tiles.example/models/kanash/m%20Vostochniy%2042.b3dm",
		},
		{
			name: "cyrillic segment",
			ref:  "дом 7.b3dm",
			want: "http://tiles.example/models/kanash/%D0%B4%D0%BE%D0%BC%207.b3dm",
		},
		{
			name: "already encoded is not double encoded",
			ref:  "%D0%B4%D0%BE%D0%BC%207.b3dm",
			want: "http://tiles.example/models/kanash/%D0%B4%D0%BE%D0%BC%207.b3dm",
		},
		{
			name: "parent directory",
			ref:  "../shared/tile.b3dm",
			want: "http://tiles.example/models/shared/tile.b3dm",
		},
		{
			name: "nested manifest",
			ref:  "sub tiles/tileset.json",
			want: "http://tiles.example/models/kanash/sub%20tiles/tileset.json",
		},
		{
			name: "query preserved",
			ref:  "tile.b3dm?v=2",
			want: "http://tiles.example/models/kanash/tile.b3dm?v=2",
		},
		{
			name: "absolute reference wins",
			ref:  "http://other.example/x/tile.b3dm",
			want: "http://other.example/x/tile.b3dm",
		},
	}

	var resolver PercentEncodingResolver
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.Resolve(base, tc.ref)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.ref, err)
			}
			if got.String() != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.ref, got.String(), tc.want)
			}
		})
	}
}

func TestPercentEncodingResolverErrors(t *testing.T) {
	base, _ := url.Parse("http://tiles.example/tileset.json")

	var resolver PercentEncodingResolver
	if _, err := resolver.Resolve(nil, "tile.b3dm"); err == nil {
		t.Error("nil base accepted")
	}
	if _, err := resolver.Resolve(base, ""); err == nil {
		t.Error("empty reference accepted")
	}
}
