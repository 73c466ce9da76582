// Package metrics provides Prometheus metrics for the anomaly serving
// pipeline: classification throughput and latency, persistence failures,
// broadcast behavior and HTTP request accounting. All metrics are exposed
// via the dedicated metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// Classification metrics
	SamplesClassified  prometheus.Counter   // Total number of samples scored
	AnomaliesDetected  prometheus.Counter   // Total number of samples labeled anomalous
	ValidationFailures prometheus.Counter   // Total number of rejected submissions
	ClassifyDuration   prometheus.Histogram // End-to-end batch classification duration
	DecisionDistance   prometheus.Histogram // Distribution of signed decision distances

	// Persistence metrics
	LogAppendFailures prometheus.Counter // Total number of failed log appends

	// Broadcast metrics
	Subscribers      prometheus.Gauge   // Currently connected live-feed subscribers
	BroadcastDrops   prometheus.Counter // Subscribers dropped for stalled or broken channels
	ResultsPublished prometheus.Counter // Total number of results fanned out

	// HTTP metrics
	RequestsTotal *prometheus.CounterVec // Requests by method, path and status
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics against a custom registry, which keeps
// test instances isolated from the global one.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		SamplesClassified: factory.NewCounter(prometheus.CounterOpts{
			Name: "samples_classified_total",
			Help: "Total number of samples scored",
		}),
		AnomaliesDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Total number of samples labeled anomalous",
		}),
		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Total number of submissions rejected before scoring",
		}),
		ClassifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "classify_duration_seconds",
			Help:    "End-to-end batch classification duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		DecisionDistance: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "decision_distance",
			Help:    "Distribution of signed decision distances",
			Buckets: prometheus.LinearBuckets(-1, 0.2, 11),
		}),
		LogAppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "log_append_failures_total",
			Help: "Total number of failed log appends",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "live_feed_subscribers",
			Help: "Currently connected live-feed subscribers",
		}),
		BroadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_drops_total",
			Help: "Subscribers dropped for stalled or broken channels",
		}),
		ResultsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "results_published_total",
			Help: "Total number of results fanned out to subscribers",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
	}
}

// SubscribersSet implements hub.MetricsTracker.
func (m *Metrics) SubscribersSet(n int) { m.Subscribers.Set(float64(n)) }

// BroadcastDropsInc implements hub.MetricsTracker.
func (m *Metrics) BroadcastDropsInc() { m.BroadcastDrops.Inc() }

// ResultsPublishedInc implements hub.MetricsTracker.
func (m *Metrics) ResultsPublishedInc() { m.ResultsPublished.Inc() }
