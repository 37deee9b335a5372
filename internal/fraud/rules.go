package fraud

import (
	"regexp"
	"strings"
	"time"
)

// IdentityData is the structural slice of an identity submission that the
// deterministic checks inspect. Gathering it is the caller's job; scoring it
// is pure domain logic here, no I/O and no side effects.
type IdentityData struct {
	DocumentNumber string `json:"document_number"`
	FullName       string `json:"full_name"`
	BirthDate      string `json:"birth_date"` // ISO date, 2006-01-02
	IssueDate      string `json:"issue_date,omitempty"`
	ExpiryDate     string `json:"expiry_date,omitempty"`
}

// Structural check weights. Document number dominates because it is the
// primary key against issuing registries; the remaining checks split the rest.
const (
	weightDocumentNumber = 0.4
	weightNamePlausible  = 0.3
	weightDatePlausible  = 0.2
	weightCrossField     = 0.1
)

var (
	documentNumberPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{4,18}[A-Z0-9]$`)
	namePattern           = regexp.MustCompile(`^[\p{L}][\p{L} .'-]*[\p{L}.]$`)
)

// EvaluateIdentity runs the deterministic structural checks and returns the
// weighted fraud score in [0,1] plus the names of the failed checks.
// Check order matches weight order; the score is the sum of failed weights.
func EvaluateIdentity(data IdentityData) (float64, []string) {
	var score float64
	var factors []string

	if !documentNumberValid(data.DocumentNumber) {
		score += weightDocumentNumber
		factors = append(factors, "invalid_document_number")
	}
	if !namePlausible(data.FullName) {
		score += weightNamePlausible
		factors = append(factors, "implausible_name")
	}
	if !birthDatePlausible(data.BirthDate) {
		score += weightDatePlausible
		factors = append(factors, "implausible_birth_date")
	}
	if !crossFieldsConsistent(data) {
		score += weightCrossField
		factors = append(factors, "inconsistent_fields")
	}

	if score > 1 {
		score = 1
	}
	return score, factors
}

func documentNumberValid(number string) bool {
	return documentNumberPattern.MatchString(strings.ToUpper(strings.TrimSpace(number)))
}

func namePlausible(name string) bool {
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > 80 {
		return false
	}
	// A legal name carries at least two parts.
	if len(strings.Fields(name)) < 2 {
		return false
	}
	return namePattern.MatchString(name)
}

func birthDatePlausible(birthDate string) bool {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(birthDate))
	if err != nil {
		return false
	}
	age := time.Since(parsed)
	return age > 0 && age < 130*365*24*time.Hour
}

// crossFieldsConsistent checks the document validity window when present:
// issue before expiry, and issue not before birth.
func crossFieldsConsistent(data IdentityData) bool {
	issue, issueErr := time.Parse("2006-01-02", strings.TrimSpace(data.IssueDate))
	expiry, expiryErr := time.Parse("2006-01-02", strings.TrimSpace(data.ExpiryDate))
	if data.IssueDate != "" && issueErr != nil {
		return false
	}
	if data.ExpiryDate != "" && expiryErr != nil {
		return false
	}
	if issueErr == nil && expiryErr == nil && !issue.Before(expiry) {
		return false
	}
	if birth, err := time.Parse("2006-01-02", strings.TrimSpace(data.BirthDate)); err == nil && issueErr == nil {
		if issue.Before(birth) {
			return false
		}
	}
	return true
}

// Signals are the caller-supplied behavioral flags feeding risk assessment.
type Signals struct {
	UnusualBehavior  bool `json:"unusual_behavior"`
	LocationMismatch bool `json:"location_mismatch"`
	DeviceAnomaly    bool `json:"device_anomaly"`
}

// Behavioral flag weights. Behavior dominates because it is the hardest
// signal to spoof; location and device split the remainder evenly.
const (
	weightUnusualBehavior  = 0.4
	weightLocationMismatch = 0.3
	weightDeviceAnomaly    = 0.3
)

// SignalScore reduces the behavioral flags to a score in [0,1].
func SignalScore(s Signals) float64 {
	var score float64
	if s.UnusualBehavior {
		score += weightUnusualBehavior
	}
	if s.LocationMismatch {
		score += weightLocationMismatch
	}
	if s.DeviceAnomaly {
		score += weightDeviceAnomaly
	}
	return score
}

// BlendRisk combines confirmed fraud history with the current interaction's
// signal score. History saturates at historyCap reports so one prolific
// account cannot overflow the scale; the blend is an even split, which keeps
// the result monotonic in both inputs.
func BlendRisk(historyCount, historyCap int, signalScore float64) float64 {
	if historyCap <= 0 {
		historyCap = 1
	}
	history := float64(historyCount) / float64(historyCap)
	if history > 1 {
		history = 1
	}
	return 0.5*history + 0.5*signalScore
}
