// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every metric the indexer exports.
type Metrics struct {
	registry *prometheus.Registry

	// Engine
	EventsProcessed   *prometheus.CounterVec
	EventsSkipped     *prometheus.CounterVec
	EventErrors       *prometheus.CounterVec
	EventLatency      *prometheus.HistogramVec
	InvariantFailures *prometheus.CounterVec
	LeaseWait         prometheus.Histogram

	// Refresher
	RefreshRuns     prometheus.Counter
	RefreshedPools  prometheus.Counter
	RefreshFailures prometheus.Counter
	RefreshDuration prometheus.Histogram

	// Ingestion
	LastProcessedBlock *prometheus.GaugeVec
	LogsFetched        *prometheus.CounterVec
	DecodeErrors       *prometheus.CounterVec

	// Oracle
	OracleMisses  *prometheus.CounterVec
	OracleSamples *prometheus.CounterVec

	// Fan-out
	PublishFailures prometheus.Counter
}

// NewMetrics registers all metrics on a fresh registry, so tests can build
// as many instances as they need.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "poolscope"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_processed_total",
			Help:      "Events applied to the entity store, by kind",
		}, []string{"kind"}),
		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_skipped_total",
			Help:      "Events ignored, by kind and reason",
		}, []string{"kind", "reason"}),
		EventErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "event_errors_total",
			Help:      "Events that failed to apply, by kind",
		}, []string{"kind"}),
		EventLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "event_latency_seconds",
			Help:      "Time to apply one event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		InvariantFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "invariant_violations_total",
			Help:      "Invariant violations clamped in lenient mode",
		}, []string{"invariant"}),
		LeaseWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "lease_wait_seconds",
			Help:      "Time spent waiting for a pool lease",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		RefreshRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "runs_total",
			Help:      "Refresher batches executed",
		}),
		RefreshedPools: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "pools_refreshed_total",
			Help:      "Pools whose rolling volume was refreshed",
		}),
		RefreshFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "pool_failures_total",
			Help:      "Pools that failed to refresh",
		}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresher",
			Name:      "duration_seconds",
			Help:      "Duration of a refresher batch",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		LastProcessedBlock: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_processed_block",
			Help:      "Last block whose logs were fully applied",
		}, []string{"chain"}),
		LogsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "logs_fetched_total",
			Help:      "Raw logs fetched from RPC",
		}, []string{"chain"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_errors_total",
			Help:      "Logs that could not be decoded",
		}, []string{"chain"}),

		OracleMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "misses_total",
			Help:      "Price lookups with no sample in the lookback window",
		}, []string{"chain"}),
		OracleSamples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "samples_total",
			Help:      "ETH/USD samples written by the poller",
		}, []string{"chain"}),

		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "publish_failures_total",
			Help:      "Snapshots that failed to publish",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
