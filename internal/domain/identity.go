package domain

import "time"

// DIDStatus tracks the lifecycle of a DID document. The transition is
// monotonic: Active can become Deactivated, never the reverse.
type DIDStatus string

const (
	DIDStatusActive      DIDStatus = "active"
	DIDStatusDeactivated DIDStatus = "deactivated"
)

// AnchorStatus tracks the off-chain record's relationship to its on-chain
// anchor. Pending records are picked up by the reconciler until they either
// confirm or exhaust retries.
type AnchorStatus string

const (
	AnchorStatusPending   AnchorStatus = "anchor_pending"
	AnchorStatusConfirmed AnchorStatus = "anchor_confirmed"
	AnchorStatusFailed    AnchorStatus = "anchor_failed"
)

// DIDDocumentBody is the typed envelope for the JSON-shaped DID document.
// Recognized fields are first-class; anything else rides in Extensions so
// unknown producers do not break consumers.
type DIDDocumentBody struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name,omitempty"`
	PublicKey      string                 `json:"publicKey,omitempty"`
	Authentication []AuthenticationMethod `json:"authentication,omitempty"`
	Extensions     map[string]any         `json:"extensions,omitempty"`
}

// AuthenticationMethod mirrors the authentication entries of a DID document.
type AuthenticationMethod struct {
	Type               string `json:"type"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// DIDDocument is the off-chain identity record. The off-chain store is the
// source of truth for reads; AnchorTxHash joins it to the chain.
type DIDDocument struct {
	DID          string          `json:"did"`
	Document     DIDDocumentBody `json:"document"`
	Owner        string          `json:"owner"`
	Status       DIDStatus       `json:"status"`
	AnchorStatus AnchorStatus    `json:"anchor_status"`
	AnchorTxHash string          `json:"anchor_tx_hash,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Resolvable reports whether the document may be returned to callers.
func (d DIDDocument) Resolvable() bool {
	return d.Status == DIDStatusActive
}

// BiometricType names a biometric modality.
type BiometricType string

const (
	BiometricTypeFace        BiometricType = "face"
	BiometricTypeFingerprint BiometricType = "fingerprint"
)

// Valid reports whether the modality is one the engine can verify.
func (t BiometricType) Valid() bool {
	return t == BiometricTypeFace || t == BiometricTypeFingerprint
}

// BiometricRecord stores the template digest for one (DID, type) pair. Only
// the digest crosses the storage boundary; raw vectors never persist.
type BiometricRecord struct {
	ID           string        `json:"id"`
	DID          string        `json:"did"`
	Type         BiometricType `json:"type"`
	TemplateHash string        `json:"template_hash"`
	AnchorStatus AnchorStatus  `json:"anchor_status"`
	AnchorTxHash string        `json:"anchor_tx_hash,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// FraudReport is an append-only entry scoped to a DID. Score is an integer in
// [0,100]; reports are immutable once written.
type FraudReport struct {
	ID           string         `json:"id"`
	DID          string         `json:"did"`
	FraudType    string         `json:"fraud_type"`
	Score        int            `json:"score"`
	Details      map[string]any `json:"details,omitempty"`
	AnchorTxHash string         `json:"anchor_tx_hash,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// RiskLevel buckets a continuous risk score into a coarse category.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// BucketRisk maps a normalized score in [0,1] onto the shared risk vocabulary.
// Both rule-based and model-based scorers use this single policy.
func BucketRisk(score float64) RiskLevel {
	switch {
	case score >= 0.7:
		return RiskLevelHigh
	case score >= 0.3:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskAssessment is derived on demand from fraud history plus caller-supplied
// risk factors; it is never persisted.
type RiskAssessment struct {
	DID               string    `json:"did"`
	RiskScore         int       `json:"risk_score"`
	RiskLevel         RiskLevel `json:"risk_level"`
	FraudHistoryCount int       `json:"fraud_history_count"`
}
