package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the fraud detection service.
type Metrics struct {
	// Reports recorded by fraud type
	ReportsTotal *prometheus.CounterVec

	// Detection runs by kind and whether they flagged
	DetectionsTotal *prometheus.CounterVec

	// Blended risk scores observed during assessment
	RiskScores prometheus.Histogram
}

// New creates a Metrics instance with all fraud metrics registered.
func New() *Metrics {
	return &Metrics{
		ReportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorid_fraud_reports_total",
			Help: "Total fraud reports recorded by fraud type",
		}, []string{"fraud_type"}),

		DetectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorid_fraud_detections_total",
			Help: "Total detection runs by kind and outcome",
		}, []string{"kind", "flagged"}), // kind: "identity", "deepfake"

		RiskScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "anchorid_fraud_risk_score",
			Help:    "Blended risk scores computed during assessment",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

// IncrementReport records one fraud report.
func (m *Metrics) IncrementReport(fraudType string) {
	if m != nil {
		m.ReportsTotal.WithLabelValues(fraudType).Inc()
	}
}

// IncrementDetection records one detection run.
func (m *Metrics) IncrementDetection(kind string, flagged bool) {
	if m != nil {
		label := "false"
		if flagged {
			label = "true"
		}
		m.DetectionsTotal.WithLabelValues(kind, label).Inc()
	}
}

// ObserveRiskScore records a blended risk score.
func (m *Metrics) ObserveRiskScore(score float64) {
	if m != nil {
		m.RiskScores.Observe(score)
	}
}
