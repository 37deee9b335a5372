package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the anchoring pipeline.
type Metrics struct {
	// Submissions by operation kind and result
	SubmissionsTotal *prometheus.CounterVec

	// Retried submissions by operation kind
	RetriesTotal *prometheus.CounterVec

	// Wall time from submission to confirmed receipt
	ConfirmationLatency prometheus.Histogram

	// Pending reconciliation tasks
	ReconcilerDepth prometheus.Gauge
}

// New creates a Metrics instance with all anchor metrics registered.
func New() *Metrics {
	return &Metrics{
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorid_anchor_submissions_total",
			Help: "Total chain submissions by operation kind and result",
		}, []string{"kind", "result"}), // result: "confirmed", "failed", "timed_out", "rejected"

		RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorid_anchor_retries_total",
			Help: "Total re-submissions by operation kind",
		}, []string{"kind"}),

		ConfirmationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "anchorid_anchor_confirmation_duration_seconds",
			Help:    "Duration from transaction submission to confirmed receipt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		ReconcilerDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "anchorid_anchor_reconciler_pending_tasks",
			Help: "Number of anchor tasks awaiting reconciliation",
		}),
	}
}

// IncrementSubmission records a submission outcome.
func (m *Metrics) IncrementSubmission(kind, result string) {
	if m != nil {
		m.SubmissionsTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncrementRetry records a re-submission.
func (m *Metrics) IncrementRetry(kind string) {
	if m != nil {
		m.RetriesTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveConfirmation records submission-to-confirmation latency.
func (m *Metrics) ObserveConfirmation(d time.Duration) {
	if m != nil {
		m.ConfirmationLatency.Observe(d.Seconds())
	}
}

// SetReconcilerDepth records the pending task count.
func (m *Metrics) SetReconcilerDepth(n int) {
	if m != nil {
		m.ReconcilerDepth.Set(float64(n))
	}
}
