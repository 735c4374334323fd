package triage

import (
	"reflect"
	"testing"
)

func validIntake() *PatientIntake {
	return &PatientIntake{
		Age:      54,
		Gender:   GenderMale,
		Symptoms: []string{"Chest Pain"},
		Vitals:   Vitals{BloodPressure: "150/95", HeartRate: 130, Temperature: 101.0},
	}
}

func TestNormalizeValid(t *testing.T) {
	n, err := Normalize(validIntake())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if n.BP != "150/95" {
		t.Errorf("bp = %q, want 150/95", n.BP)
	}
	if n.Systolic != 150 || n.Diastolic != 95 {
		t.Errorf("parsed bp = %d/%d, want 150/95", n.Systolic, n.Diastolic)
	}
}

func TestNormalizeRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PatientIntake)
		field  string
	}{
		{"negative age", func(in *PatientIntake) { in.Age = -1 }, "age"},
		{"bad gender", func(in *PatientIntake) { in.Gender = "M" }, "gender"},
		{"missing gender", func(in *PatientIntake) { in.Gender = "" }, "gender"},
		{"malformed bp", func(in *PatientIntake) { in.Vitals.BloodPressure = "150-95" }, "bp"},
		{"single digit bp", func(in *PatientIntake) { in.Vitals.BloodPressure = "9/80" }, "bp"},
		{"heart rate low", func(in *PatientIntake) { in.Vitals.HeartRate = 20 }, "heart_rate"},
		{"heart rate high", func(in *PatientIntake) { in.Vitals.HeartRate = 300 }, "heart_rate"},
		{"temperature low", func(in *PatientIntake) { in.Vitals.Temperature = 80 }, "temperature"},
		{"temperature high", func(in *PatientIntake) { in.Vitals.Temperature = 115 }, "temperature"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validIntake()
			tc.mutate(in)
			_, err := Normalize(in)
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Errorf("field = %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestNormalizeRequiresSymptomSignal(t *testing.T) {
	in := validIntake()
	in.Symptoms = nil
	in.SymptomsText = "   "
	in.WearableHint = nil

	_, err := Normalize(in)
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %v, want *ValidationError for empty signal", err)
	}

	// A wearable hint alone is a sufficient signal.
	in.WearableHint = &RiskHint{RiskLevel: RiskHigh, Summary: "Detected tachycardia events. Max HR: 162."}
	n, err := Normalize(in)
	if err != nil {
		t.Fatalf("normalize with hint failed: %v", err)
	}
	if n.SymptomsText != "Detected tachycardia events. Max HR: 162." {
		t.Errorf("symptoms_text = %q", n.SymptomsText)
	}
}

func TestNormalizeCanonicalizesTags(t *testing.T) {
	in := validIntake()
	in.Symptoms = []string{"Fever", "Chest Pain", " Fever ", "", "Chest Pain"}

	n, err := Normalize(in)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	want := []string{"Chest Pain", "Fever"}
	if !reflect.DeepEqual(n.Symptoms, want) {
		t.Errorf("symptoms = %v, want %v", n.Symptoms, want)
	}

	// Same input in a different order normalizes identically.
	in2 := validIntake()
	in2.Symptoms = []string{"Chest Pain", "Fever"}
	n2, _ := Normalize(in2)
	if !reflect.DeepEqual(n.Symptoms, n2.Symptoms) {
		t.Errorf("normalization not deterministic: %v vs %v", n.Symptoms, n2.Symptoms)
	}
}

func TestNormalizeJoinsNarrativeAndHint(t *testing.T) {
	in := validIntake()
	in.SymptomsText = "  sharp pain radiating to left arm "
	in.WearableHint = &RiskHint{RiskLevel: RiskMedium, Summary: "Low oxygen saturation (93%)."}

	n, err := Normalize(in)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	want := "sharp pain radiating to left arm Low oxygen saturation (93%)."
	if n.SymptomsText != want {
		t.Errorf("symptoms_text = %q, want %q", n.SymptomsText, want)
	}
}

func TestAssessmentValidate(t *testing.T) {
	good := &Assessment{RiskLevel: RiskHigh, Department: "Cardiology", Confidence: 92}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid assessment rejected: %v", err)
	}

	cases := []Assessment{
		{RiskLevel: "Critical", Department: "Emergency", Confidence: 90},
		{RiskLevel: RiskLow, Department: "Emergency", Confidence: 101},
		{RiskLevel: RiskLow, Department: "Emergency", Confidence: -1},
		{RiskLevel: RiskLow, Department: "", Confidence: 50},
	}
	for i, a := range cases {
		if err := a.Validate(); err == nil {
			t.Errorf("case %d: invalid assessment accepted: %+v", i, a)
		}
	}
}

func TestRiskRankOrdering(t *testing.T) {
	if !(RiskHigh.Rank() > RiskMedium.Rank() && RiskMedium.Rank() > RiskLow.Rank()) {
		t.Error("risk rank ordering broken")
	}
	if RiskLevel("bogus").Rank() != 0 {
		t.Error("unknown risk level should rank lowest")
	}
}
