package wearable

import (
	"testing"

	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

func TestAnalyzeNormalVitals(t *testing.T) {
	hint, factors := Analyze(Streams{
		HeartRate:   []int{72, 75, 70, 78},
		OxygenLevel: []int{98, 97, 99},
	})
	if hint.RiskLevel != triage.RiskLow {
		t.Errorf("risk = %s, want Low", hint.RiskLevel)
	}
	if len(factors) != 0 {
		t.Errorf("factors = %v, want none", factors)
	}
}

func TestAnalyzeTachycardia(t *testing.T) {
	hint, factors := Analyze(Streams{HeartRate: []int{90, 95, 162, 88}})
	if hint.RiskLevel != triage.RiskHigh {
		t.Errorf("risk = %s, want High", hint.RiskLevel)
	}
	if Department(factors) != "Cardiology" {
		t.Errorf("department = %s, want Cardiology", Department(factors))
	}
}

func TestAnalyzeLowOxygen(t *testing.T) {
	hint, _ := Analyze(Streams{
		HeartRate:   []int{80, 82},
		OxygenLevel: []int{93, 94, 93},
	})
	if hint.RiskLevel != triage.RiskMedium {
		t.Errorf("risk = %s, want Medium", hint.RiskLevel)
	}
}

func TestAnalyzeCriticalHypoxia(t *testing.T) {
	hint, _ := Analyze(Streams{OxygenLevel: []int{88, 87, 89}})
	if hint.RiskLevel != triage.RiskHigh {
		t.Errorf("risk = %s, want High for hypoxia", hint.RiskLevel)
	}
}

func TestAnalyzeEmptyStreams(t *testing.T) {
	hint, factors := Analyze(Streams{})
	if hint.RiskLevel != triage.RiskLow || len(factors) != 0 {
		t.Errorf("empty streams: hint = %+v factors = %v", hint, factors)
	}
}
