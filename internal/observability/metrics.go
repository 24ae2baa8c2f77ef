// Package observability wires Prometheus metrics and OpenTelemetry
// tracing for the tile streaming engine. Collectors register against an
// injectable Registerer so tests and embedders can isolate registries.
package observability

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamerCollector bundles the Prometheus metrics of the tile streamer
// and frame compositor.
type StreamerCollector struct {
	gatherer prometheus.Gatherer

	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	EvictionsTotal prometheus.Counter

	ResidentBytes    prometheus.Gauge
	ResidentNodes    prometheus.Gauge
	InflightRequests prometheus.Gauge

	FramesTotal        prometheus.Counter
	FramesSkippedTotal prometheus.Counter
	SelectedNodes      prometheus.Gauge
}

// NewStreamerCollector registers streamer metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registration is idempotent: an already-registered collector is reused.
func NewStreamerCollector(reg prometheus.Registerer) (*StreamerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &StreamerCollector{gatherer: gatherer}

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_fetches_total",
		Help: "Total tile content fetches, labeled by result (ok, failed, cancelled).",
	}, []string{"result"})
	if err := register(reg, &fetches); err != nil {
		return nil, err
	}
	c.FetchesTotal = fetches

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiles_fetch_duration_seconds",
		Help:    "Latency of tile content fetch plus decode in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
	if err := register(reg, &duration); err != nil {
		return nil, err
	}
	c.FetchDuration = duration

	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiles_evictions_total",
		Help: "Cumulative number of tile content evictions.",
	})
	if err := register(reg, &evictions); err != nil {
		return nil, err
	}
	c.EvictionsTotal = evictions

	residentBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_resident_bytes",
		Help: "Bytes of decoded tile content currently resident.",
	})
	if err := register(reg, &residentBytes); err != nil {
		return nil, err
	}
	c.ResidentBytes = residentBytes

	residentNodes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_resident_nodes",
		Help: "Number of tile nodes with resident content.",
	})
	if err := register(reg, &residentNodes); err != nil {
		return nil, err
	}
	c.ResidentNodes = residentNodes

	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_inflight_requests",
		Help: "Tile content requests currently fetching or parsing.",
	})
	if err := register(reg, &inflight); err != nil {
		return nil, err
	}
	c.InflightRequests = inflight

	frames := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_total",
		Help: "Total frames processed by the compositor.",
	})
	if err := register(reg, &frames); err != nil {
		return nil, err
	}
	c.FramesTotal = frames

	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_skipped_total",
		Help: "Frames skipped because the host camera state was unusable.",
	})
	if err := register(reg, &skipped); err != nil {
		return nil, err
	}
	c.FramesSkippedTotal = skipped

	selected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tiles_selected_nodes",
		Help: "Tile nodes selected for display in the most recent frame.",
	})
	if err := register(reg, &selected); err != nil {
		return nil, err
	}
	c.SelectedNodes = selected

	return c, nil
}

// Gatherer returns the gatherer backing the collector's registry.
func (c *StreamerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler returns an HTTP handler exposing the collector's registry in
// the Prometheus text format.
func (c *StreamerCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// register adds collector to reg, replacing *collector with the existing
// instance when one with identical metadata is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, collector *C) error {
	if err := reg.Register(*collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				*collector = existing
				return nil
			}
		}
		return err
	}
	return nil
}
