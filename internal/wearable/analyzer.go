// Package wearable derives a risk hint from wearable vitals streams.
// The analysis is deterministic rule evaluation over heart rate and oxygen
// saturation; it produces a hint for the intake normalizer, not a diagnosis.
package wearable

import (
	"fmt"

	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

// Streams holds raw wearable samples for one observation window.
type Streams struct {
	HeartRate   []int `json:"heart_rate_stream"`
	OxygenLevel []int `json:"oxygen_level_stream"`
}

// Thresholds for the wearable rules.
const (
	tachycardiaAvgHR = 100
	tachycardiaMaxHR = 150
	lowOxygenAvg     = 95
	criticalOxygen   = 90
)

// Analyze evaluates the streams and returns a risk hint plus the factors that
// drove it. Empty streams yield a Low hint with no factors.
func Analyze(s Streams) (*triage.RiskHint, []string) {
	avgHR, maxHR := intStats(s.HeartRate)
	avgO2, _ := intStats(s.OxygenLevel)

	risk := triage.RiskLow
	summary := "Vitals within normal range."
	var factors []string

	if avgHR > tachycardiaAvgHR || maxHR > tachycardiaMaxHR {
		risk = triage.RiskHigh
		summary = fmt.Sprintf("Detected tachycardia events. Max HR: %d.", maxHR)
		factors = append(factors, "High Heart Rate")
	}

	if len(s.OxygenLevel) > 0 && avgO2 < lowOxygenAvg {
		if risk != triage.RiskHigh {
			risk = triage.RiskMedium
		}
		summary += fmt.Sprintf(" Low oxygen saturation (%d%%).", avgO2)
		factors = append(factors, "Low Oxygen")
		if avgO2 < criticalOxygen {
			risk = triage.RiskHigh
			summary = fmt.Sprintf("Critical hypoxia detected (%d%%).", avgO2)
		}
	}

	return &triage.RiskHint{RiskLevel: risk, Summary: summary}, factors
}

// Department suggests where a wearable-driven case should be seen.
func Department(factors []string) string {
	for _, f := range factors {
		if f == "High Heart Rate" {
			return "Cardiology"
		}
	}
	return "General Medicine"
}

func intStats(xs []int) (avg, max int) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
		if x > max {
			max = x
		}
	}
	return sum / len(xs), max
}
