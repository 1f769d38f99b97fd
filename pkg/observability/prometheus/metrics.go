// Package prometheus exposes the pipeline's operational metrics on a
// private registry: enqueue/ack/drop counters, queue backlog, batch
// submission outcomes and latency.
package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "runlog"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Batch submission outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

// Drop reasons.
const (
	DropRejected      = "rejected"
	DropSerialization = "serialization"
)

// Metrics holds all pipeline metrics. Labels carry the processor mode so
// several processors in one process stay distinguishable.
type Metrics struct {
	OperationsEnqueued *prometheus.CounterVec
	OperationsAcked    *prometheus.CounterVec
	OperationsDropped  *prometheus.CounterVec

	QueueBacklogBytes *prometheus.GaugeVec

	BatchesSubmitted   *prometheus.CounterVec
	BatchSubmitSeconds *prometheus.HistogramVec
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		OperationsEnqueued: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "runlog_operations_enqueued_total",
				Help: "Total number of operations accepted by a processor",
			},
			[]string{"mode"},
		),
		OperationsAcked: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "runlog_operations_acked_total",
				Help: "Total number of operations confirmed by the backend",
			},
			[]string{"mode"},
		),
		OperationsDropped: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "runlog_operations_dropped_total",
				Help: "Total number of operations consumed without delivery",
			},
			[]string{"mode", "reason"},
		),
		QueueBacklogBytes: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runlog_queue_backlog_bytes",
				Help: "Bytes of framed records not yet acknowledged",
			},
			[]string{"mode"},
		),
		BatchesSubmitted: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "runlog_batches_submitted_total",
				Help: "Total number of batch submissions by outcome",
			},
			[]string{"mode", "outcome"},
		),
		BatchSubmitSeconds: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runlog_batch_submit_duration_seconds",
				Help:    "Backend batch submission duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
}

// RecordEnqueued counts operations accepted on the hot path.
func (m *Metrics) RecordEnqueued(mode string, n int) {
	m.OperationsEnqueued.WithLabelValues(mode).Add(float64(n))
}

// RecordAcked counts operations confirmed by the backend.
func (m *Metrics) RecordAcked(mode string, n int) {
	m.OperationsAcked.WithLabelValues(mode).Add(float64(n))
}

// RecordDropped counts operations consumed without delivery.
func (m *Metrics) RecordDropped(mode, reason string, n int) {
	m.OperationsDropped.WithLabelValues(mode, reason).Add(float64(n))
}

// SetBacklog updates the unacknowledged-bytes gauge.
func (m *Metrics) SetBacklog(mode string, bytes int64) {
	m.QueueBacklogBytes.WithLabelValues(mode).Set(float64(bytes))
}

// RecordBatch records one submission attempt.
func (m *Metrics) RecordBatch(mode, outcome string, duration time.Duration) {
	m.BatchesSubmitted.WithLabelValues(mode, outcome).Inc()
	m.BatchSubmitSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}
