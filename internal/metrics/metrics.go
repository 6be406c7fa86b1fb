package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus series for the merge bot. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	mergesTotal     *prometheus.CounterVec
	mergeDuration   *prometheus.HistogramVec
	transfersTotal  *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
	activePipelines prometheus.Gauge
	sessions        prometheus.Gauge
}

// New creates and registers the merge bot metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	mergesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mergebot_merges_total",
		Help: "Merge attempts by strategy and result",
	}, []string{"strategy", "result"})
	mergeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mergebot_merge_duration_seconds",
		Help:    "Wall clock time spent in a merge phase",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"strategy"})
	transfersTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mergebot_transfers_total",
		Help: "Downloads and deliveries by direction, target and result",
	}, []string{"direction", "target", "result"})
	transferBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mergebot_transfer_bytes_total",
		Help: "Bytes moved by direction",
	}, []string{"direction"})
	activePipelines := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mergebot_active_pipelines",
		Help: "Pipelines currently downloading, merging or uploading",
	})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mergebot_sessions",
		Help: "Sessions holding queued inputs",
	})

	registry.MustRegister(
		mergesTotal,
		mergeDuration,
		transfersTotal,
		transferBytes,
		activePipelines,
		sessions,
	)

	return &Metrics{
		registry:        registry,
		mergesTotal:     mergesTotal,
		mergeDuration:   mergeDuration,
		transfersTotal:  transfersTotal,
		transferBytes:   transferBytes,
		activePipelines: activePipelines,
		sessions:        sessions,
	}
}

// ObserveMerge records one merge phase outcome.
func (m *Metrics) ObserveMerge(strategy string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mergesTotal.WithLabelValues(strategy, result(err)).Inc()
	m.mergeDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveTransfer records a finished download ("in") or delivery ("out").
func (m *Metrics) ObserveTransfer(direction, target string, bytes int64, err error) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(direction, target, result(err)).Inc()
	if bytes > 0 {
		m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

func (m *Metrics) SetActivePipelines(n int) {
	if m == nil {
		return
	}
	m.activePipelines.Set(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
