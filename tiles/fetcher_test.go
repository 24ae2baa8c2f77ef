package tiles

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestHTTPFetcher(t *testing.T) {
	payload := []byte("tile bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write(payload)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := &HTTPFetcher{}

	u, _ := url.Parse(srv.URL + "/ok")
	data, err := f.Fetch(context.Background(), u)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("fetched %q", data)
	}

	// A 404 surfaces as an ordinary error, no different from a transport
	// failure; the caller treats both as a failed node.
	u, _ = url.Parse(srv.URL + "/missing")
	if _, err := f.Fetch(context.Background(), u); err == nil {
		t.Error("non-2xx status not reported")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u, _ = url.Parse(srv.URL + "/ok")
	if _, err := f.Fetch(ctx, u); err == nil {
		t.Error("cancelled context not reported")
	}
}
