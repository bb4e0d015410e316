package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. Each instance owns a private registry so
// several pipelines (or tests) never collide on global registration.
type Metrics struct {
	FramesProcessed    prometheus.Counter
	Detections         prometheus.Counter
	NonPersonFiltered  prometheus.Counter
	FallenObservations prometheus.Counter
	AlertsEmitted      prometheus.Counter
	SinkFailures       prometheus.Counter
	TracksEvicted      prometheus.Counter
	SinkLatency        prometheus.Histogram
	trackedIdentities  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallwatch_frames_processed_total",
			Help: "Frames run through the fall pipeline",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallwatch_detections_total",
			Help: "Detections received from the detection source",
		}),
		NonPersonFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallwatch_detections_filtered_total",
			Help: "Detections dropped because their class is not person",
		}),
		FallenObservations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallwatch_fallen_observations_total",
			Help: "Person detections classified as fallen",
		}),
		AlertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallwatch_alerts_total",
			Help: "Confirmed fall alerts emitted by the monitor",
		}),
		SinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallwatch_sink_failures_total",
			Help: "Alert deliveries that failed or timed out",
		}),
		TracksEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallwatch_tracks_evicted_total",
			Help: "Track states dropped by the idle sweep",
		}),
		SinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fallwatch_sink_latency_seconds",
			Help:    "Time spent delivering one alert to the sink",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		trackedIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fallwatch_tracked_identities",
			Help: "Identities currently held by the fall monitor",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.Detections,
		m.NonPersonFiltered,
		m.FallenObservations,
		m.AlertsEmitted,
		m.SinkFailures,
		m.TracksEvicted,
		m.SinkLatency,
		m.trackedIdentities,
	)
	return m
}

// SetTrackedIdentities records the current monitor size.
func (m *Metrics) SetTrackedIdentities(n int) {
	m.trackedIdentities.Set(float64(n))
}

// ObserveSinkLatency records one delivery duration.
func (m *Metrics) ObserveSinkLatency(d time.Duration) {
	m.SinkLatency.Observe(d.Seconds())
}

// Registry exposes the private registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. It blocks until the server stops.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
