package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the biometric engine.
type Metrics struct {
	// Registrations by modality and result
	RegistrationsTotal *prometheus.CounterVec

	// Verifications by modality and result
	VerificationsTotal *prometheus.CounterVec

	// Similarity scores observed during verification
	SimilarityScores *prometheus.HistogramVec

	// Samples rejected by the liveness gate, by modality
	LivenessRejectionsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all biometric metrics registered.
func New() *Metrics {
	return &Metrics{
		RegistrationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorid_biometric_registrations_total",
			Help: "Total biometric registrations by modality and result",
		}, []string{"type", "result"}), // result: "accepted", "rejected"

		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorid_biometric_verifications_total",
			Help: "Total biometric verifications by modality and result",
		}, []string{"type", "result"}), // result: "match", "no_match", "liveness_rejected"

		SimilarityScores: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anchorid_biometric_similarity_score",
			Help:    "Similarity scores computed during verification",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"type"}),

		LivenessRejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorid_biometric_liveness_rejections_total",
			Help: "Samples rejected by the liveness gate, by modality",
		}, []string{"type"}),
	}
}

// IncrementRegistration records a registration outcome.
func (m *Metrics) IncrementRegistration(biometricType, result string) {
	if m != nil {
		m.RegistrationsTotal.WithLabelValues(biometricType, result).Inc()
	}
}

// IncrementVerification records a verification outcome.
func (m *Metrics) IncrementVerification(biometricType, result string) {
	if m != nil {
		m.VerificationsTotal.WithLabelValues(biometricType, result).Inc()
	}
}

// ObserveSimilarity records a computed similarity score.
func (m *Metrics) ObserveSimilarity(biometricType string, score float64) {
	if m != nil {
		m.SimilarityScores.WithLabelValues(biometricType).Observe(score)
	}
}

// IncrementLivenessRejection records a liveness gate rejection.
func (m *Metrics) IncrementLivenessRejection(biometricType string) {
	if m != nil {
		m.LivenessRejectionsTotal.WithLabelValues(biometricType).Inc()
	}
}
