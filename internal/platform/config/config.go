package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. Thresholds are policy, not
// invariants; defaults match the documented values but every one can be
// overridden per deployment.
type Server struct {
	Addr string

	// Chain anchoring
	ContractRef   string
	SignerAddress string
	AnchorWait    time.Duration

	// Biometric policy
	FaceThreshold        float64
	FingerprintThreshold float64
	LivenessMin          float64

	// Fraud policy
	FraudThreshold  float64
	FraudHistoryCap int

	// Optional backends; empty means in-memory
	RedisURL     string
	PostgresURL  string
	KafkaBrokers string
	AuditTopic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:                 envString("ANCHORID_ADDR", ":8080"),
		ContractRef:          envString("ANCHORID_CONTRACT", "identity-anchor"),
		SignerAddress:        envString("ANCHORID_SIGNER", "0x0000000000000000000000000000000000000001"),
		AnchorWait:           envDuration("ANCHORID_ANCHOR_WAIT", 3*time.Second),
		FaceThreshold:        envFloat("FACE_MATCH_THRESHOLD", 0.6),
		FingerprintThreshold: envFloat("FINGERPRINT_MATCH_THRESHOLD", 0.7),
		LivenessMin:          envFloat("LIVENESS_MIN_SCORE", 0.5),
		FraudThreshold:       envFloat("FRAUD_THRESHOLD", 0.5),
		FraudHistoryCap:      envInt("FRAUD_HISTORY_CAP", 10),
		RedisURL:             os.Getenv("REDIS_URL"),
		PostgresURL:          os.Getenv("POSTGRES_URL"),
		KafkaBrokers:         os.Getenv("KAFKA_BROKERS"),
		AuditTopic:           envString("AUDIT_TOPIC", "anchorid.audit"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
