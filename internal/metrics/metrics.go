// Package metrics exposes engine counters in Prometheus format. Every method
// is safe on a nil *Metrics so callers can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keeper"

type Metrics struct {
	registry *prometheus.Registry

	bytesDownloaded  prometheus.Counter
	retries          *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	activeDownloads  prometheus.Gauge
	chunkWorkers     prometheus.Gauge
	snapshotDuration prometheus.Histogram
	snapshotFailures prometheus.Counter
}

// New registers the engine collectors on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.bytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_downloaded_total",
		Help:      "Bytes written to partial files by chunk workers.",
	})
	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Chunk and probe retries by failure kind.",
	}, []string{"kind"})
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Download state transitions by target state.",
	}, []string{"state"})
	m.activeDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_downloads",
		Help:      "Downloads currently probing or transferring.",
	})
	m.chunkWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chunk_workers",
		Help:      "Chunk workers currently running.",
	})
	m.snapshotDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snapshot_duration_seconds",
		Help:      "Time taken to persist the download registry.",
		Buckets:   prometheus.DefBuckets,
	})
	m.snapshotFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_failures_total",
		Help:      "Registry snapshots that could not be written.",
	})

	m.registry.MustRegister(
		m.bytesDownloaded,
		m.retries,
		m.transitions,
		m.activeDownloads,
		m.chunkWorkers,
		m.snapshotDuration,
		m.snapshotFailures,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesDownloaded.Add(float64(n))
}

func (m *Metrics) Retry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeDownloads.Set(float64(n))
}

func (m *Metrics) ChunkStarted() {
	if m == nil {
		return
	}
	m.chunkWorkers.Inc()
}

func (m *Metrics) ChunkFinished() {
	if m == nil {
		return
	}
	m.chunkWorkers.Dec()
}

// ObserveSnapshot records one persistence attempt that began at start.
func (m *Metrics) ObserveSnapshot(start time.Time, err error) {
	if m == nil {
		return
	}
	m.snapshotDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.snapshotFailures.Inc()
	}
}
