// Package triage implements intake normalization for the triage coordinator.
// Raw patient-reported data is validated and canonicalized here before any
// external scoring call is made.
package triage

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Gender is the enumerated patient gender.
type Gender string

const (
	GenderMale    Gender = "Male"
	GenderFemale  Gender = "Female"
	GenderOther   Gender = "Other"
	GenderUnknown Gender = "Unknown"
)

// Vitals holds the patient-reported vital signs.
type Vitals struct {
	BloodPressure string  `json:"bp"`
	HeartRate     int     `json:"heart_rate"`
	Temperature   float64 `json:"temperature"`
}

// PatientIntake is the raw triage submission. It is ephemeral: only the
// normalized form ever leaves this package.
type PatientIntake struct {
	Age          int      `json:"age"`
	Gender       Gender   `json:"gender"`
	Symptoms     []string `json:"symptoms"`
	SymptomsText string   `json:"symptoms_text,omitempty"`
	Vitals       Vitals   `json:"vitals"`
	Conditions   []string `json:"conditions"`
	EHRText      string   `json:"ehr_text,omitempty"`
	WearableHint *RiskHint `json:"wearable_hint,omitempty"`
}

// RiskHint is a wearable-derived risk summary produced by a separate
// collaborator (see the wearable package) and folded into the intake text.
type RiskHint struct {
	RiskLevel RiskLevel `json:"risk_level"`
	Summary   string    `json:"summary"`
}

// NormalizedIntake is the canonical scoring request. Symptom tags are
// deduplicated and sorted so a given intake always produces the same request.
type NormalizedIntake struct {
	Age          int      `json:"age"`
	Gender       Gender   `json:"gender"`
	Symptoms     []string `json:"symptoms"`
	SymptomsText string   `json:"symptoms_text"`
	BP           string   `json:"bp"`
	HeartRate    int      `json:"heart_rate"`
	Temperature  float64  `json:"temperature"`
	Conditions   []string `json:"conditions"`
	EHRText      string   `json:"ehr_text,omitempty"`
	Systolic     int      `json:"-"`
	Diastolic    int      `json:"-"`
}

// ValidationError reports user-correctable input problems. The message is
// reported verbatim to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intake: %s: %s", e.Field, e.Message)
}

const (
	minHeartRate   = 30
	maxHeartRate   = 250
	minTemperature = 90.0
	maxTemperature = 110.0
)

var bpPattern = regexp.MustCompile(`^(\d{2,3})/(\d{2,3})$`)

// Normalize validates a raw intake and produces the canonical scoring request.
// It is a pure transform: no I/O, no side effects.
func Normalize(in *PatientIntake) (*NormalizedIntake, error) {
	if in == nil {
		return nil, &ValidationError{Field: "intake", Message: "body is required"}
	}
	if in.Age < 0 {
		return nil, &ValidationError{Field: "age", Message: "must be zero or greater"}
	}
	switch in.Gender {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
	case "":
		return nil, &ValidationError{Field: "gender", Message: "is required"}
	default:
		return nil, &ValidationError{Field: "gender", Message: "must be Male, Female, Other or Unknown"}
	}

	m := bpPattern.FindStringSubmatch(strings.TrimSpace(in.Vitals.BloodPressure))
	if m == nil {
		return nil, &ValidationError{Field: "bp", Message: `must match "systolic/diastolic", e.g. 120/80`}
	}
	systolic, _ := strconv.Atoi(m[1])
	diastolic, _ := strconv.Atoi(m[2])

	if in.Vitals.HeartRate < minHeartRate || in.Vitals.HeartRate > maxHeartRate {
		return nil, &ValidationError{Field: "heart_rate", Message: fmt.Sprintf("must be between %d and %d", minHeartRate, maxHeartRate)}
	}
	if in.Vitals.Temperature < minTemperature || in.Vitals.Temperature > maxTemperature {
		return nil, &ValidationError{Field: "temperature", Message: fmt.Sprintf("must be between %.1f and %.1f", minTemperature, maxTemperature)}
	}

	symptoms := canonicalTags(in.Symptoms)
	narrative := strings.TrimSpace(in.SymptomsText)

	// An intake with no symptom signal at all cannot be triaged.
	if len(symptoms) == 0 && narrative == "" && in.WearableHint == nil {
		return nil, &ValidationError{Field: "symptoms", Message: "at least one of symptom tags, free text or a wearable hint is required"}
	}

	text := narrative
	if in.WearableHint != nil && in.WearableHint.Summary != "" {
		text = strings.TrimSpace(text + " " + in.WearableHint.Summary)
	}

	conditions := make([]string, 0, len(in.Conditions))
	for _, c := range in.Conditions {
		if c = strings.TrimSpace(c); c != "" {
			conditions = append(conditions, c)
		}
	}

	return &NormalizedIntake{
		Age:          in.Age,
		Gender:       in.Gender,
		Symptoms:     symptoms,
		SymptomsText: text,
		BP:           fmt.Sprintf("%d/%d", systolic, diastolic),
		HeartRate:    in.Vitals.HeartRate,
		Temperature:  in.Vitals.Temperature,
		Conditions:   conditions,
		EHRText:      strings.TrimSpace(in.EHRText),
		Systolic:     systolic,
		Diastolic:    diastolic,
	}, nil
}

// canonicalTags trims, deduplicates and sorts symptom tags so normalization
// is deterministic.
func canonicalTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
