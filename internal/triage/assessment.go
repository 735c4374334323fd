package triage

import "fmt"

// RiskLevel is the three-way clinical urgency classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Rank orders risk levels for queue sorting. Higher is more urgent.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

// Valid reports whether r is one of the three enumerated levels.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Assessment is the scoring collaborator's output. It is consumed here, never
// produced: the classification algorithm lives outside this repository.
type Assessment struct {
	RiskLevel           RiskLevel `json:"risk_level"`
	Department          string    `json:"department"`
	Confidence          float64   `json:"confidence"`
	Explanation         string    `json:"explanation"`
	ContributingFactors []string  `json:"contributing_factors"`
	BiasWarning         string    `json:"bias_warning,omitempty"`
}

// Validate enforces the assessment contract. A response that violates it is a
// collaborator bug and must be rejected, never coerced to a default.
func (a *Assessment) Validate() error {
	if a == nil {
		return fmt.Errorf("assessment is nil")
	}
	if !a.RiskLevel.Valid() {
		return fmt.Errorf("risk_level %q is not one of Low/Medium/High", a.RiskLevel)
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return fmt.Errorf("confidence %.2f outside [0,100]", a.Confidence)
	}
	if a.Department == "" {
		return fmt.Errorf("department is empty")
	}
	return nil
}
