// Package integration exercises the full intake pipeline: normalization,
// external risk scoring, record creation, queue projection and alert fanout.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chandra-dot-dev/meditriage/internal/alert"
	"github.com/chandra-dot-dev/meditriage/internal/domain/appointment"
	"github.com/chandra-dot-dev/meditriage/internal/queue"
	"github.com/chandra-dot-dev/meditriage/internal/scoring"
	"github.com/chandra-dot-dev/meditriage/internal/triage"
	"github.com/chandra-dot-dev/meditriage/internal/wearable"
)

// scoringServer fakes the risk scoring collaborator. It classifies on the
// symptom tags it receives, which also verifies the normalized request shape.
func scoringServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			http.NotFound(w, r)
			return
		}

		var req struct {
			Symptoms []string `json:"symptoms"`
			BP       string   `json:"bp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := triage.Assessment{
			RiskLevel:  triage.RiskLow,
			Department: "General Medicine",
			Confidence: 75,
		}
		for _, s := range req.Symptoms {
			if s == "Chest Pain" {
				resp = triage.Assessment{
					RiskLevel:   triage.RiskHigh,
					Department:  "Cardiology",
					Confidence:  92,
					Explanation: "chest pain with elevated blood pressure",
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHighRiskIntakePipeline(t *testing.T) {
	srv := scoringServer(t)
	defer srv.Close()

	logger := zap.NewNop()
	hub := alert.NewHub(logger)
	store := appointment.NewMemoryStore(hub, logger)
	scorer := scoring.NewClient(scoring.DefaultConfig(srv.URL), nil, logger)

	events, cancel := hub.Subscribe(alert.Scope{Kind: alert.ScopeAdmin})
	defer cancel()

	normalized, err := triage.Normalize(&triage.PatientIntake{
		Age:      61,
		Gender:   triage.GenderMale,
		Symptoms: []string{"Chest Pain", "Chest Pain", " Dizziness "},
		Vitals: triage.Vitals{
			BloodPressure: "150/95",
			HeartRate:     130,
			Temperature:   101.0,
		},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(normalized.Symptoms) != 2 {
		t.Fatalf("symptoms not deduplicated: %v", normalized.Symptoms)
	}

	assessment, err := scorer.Score(context.Background(), normalized)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if assessment.RiskLevel != triage.RiskHigh {
		t.Fatalf("risk = %s, want High", assessment.RiskLevel)
	}

	rec, err := store.Create(context.Background(), appointment.CreateParams{
		Intake:     normalized,
		Assessment: assessment,
		PatientRef: "patient-61",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if rec.Status != appointment.StatusPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}
	if rec.PriorityScore != 90 {
		t.Errorf("priority = %d, want 90", rec.PriorityScore)
	}
	if rec.Department != "Cardiology" {
		t.Errorf("department = %s, want Cardiology", rec.Department)
	}

	select {
	case ev := <-events:
		if ev.RecordID != rec.ID || ev.Kind != alert.KindCreated {
			t.Errorf("alert = %+v, want created for %s", ev, rec.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert for high-risk record")
	}

	open, err := store.ListOpen(context.Background(), "")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	ordered := queue.CurrentQueue(open)
	if len(ordered) != 1 || ordered[0].ID != rec.ID {
		t.Fatalf("queue = %v, want the new record first", ordered)
	}
}

func TestScoringOutageLeavesNoRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger := zap.NewNop()
	hub := alert.NewHub(logger)
	store := appointment.NewMemoryStore(hub, logger)
	scorer := scoring.NewClient(scoring.DefaultConfig(srv.URL), nil, logger)

	normalized, err := triage.Normalize(&triage.PatientIntake{
		Age:    40,
		Gender: triage.GenderFemale,
		Symptoms: []string{
			"Fatigue",
		},
		Vitals: triage.Vitals{BloodPressure: "120/80", HeartRate: 72, Temperature: 98.6},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if _, err := scorer.Score(context.Background(), normalized); err == nil {
		t.Fatal("expected scoring error")
	}

	open, _ := store.ListOpen(context.Background(), "")
	if len(open) != 0 {
		t.Errorf("outage persisted %d records", len(open))
	}
}

func TestWearableHintFeedsIntake(t *testing.T) {
	hint, factors := wearable.Analyze(wearable.Streams{
		HeartRate:   []int{110, 120, 160},
		OxygenLevel: []int{97, 98, 97},
	})
	if hint.RiskLevel != triage.RiskHigh {
		t.Fatalf("hint risk = %s, want High", hint.RiskLevel)
	}
	if dept := wearable.Department(factors); dept != "Cardiology" {
		t.Fatalf("department = %s, want Cardiology", dept)
	}

	// A wearable hint alone satisfies the symptom-signal requirement.
	normalized, err := triage.Normalize(&triage.PatientIntake{
		Age:          55,
		Gender:       triage.GenderOther,
		Vitals:       triage.Vitals{BloodPressure: "130/85", HeartRate: 115, Temperature: 98.9},
		WearableHint: hint,
	})
	if err != nil {
		t.Fatalf("normalize with hint only: %v", err)
	}
	if normalized.SymptomsText == "" {
		t.Error("hint summary not folded into symptoms text")
	}
}

func TestLifecycleWithConcurrencyControl(t *testing.T) {
	logger := zap.NewNop()
	hub := alert.NewHub(logger)
	store := appointment.NewMemoryStore(hub, logger)

	rec, err := store.Create(context.Background(), appointment.CreateParams{
		Intake:     &triage.NormalizedIntake{Symptoms: []string{"Fever"}},
		Assessment: &triage.Assessment{RiskLevel: triage.RiskMedium, Department: "General Medicine", Confidence: 80},
		PatientRef: "patient-9",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	confirmed, err := store.UpdateStatus(context.Background(), rec.ID, appointment.StatusConfirmed, rec.Version)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// A writer still holding the old version must get a conflict, not a
	// transition error.
	if _, err := store.UpdateStatus(context.Background(), rec.ID, appointment.StatusCancelled, rec.Version); err != appointment.ErrConflict {
		t.Fatalf("stale write: err = %v, want ErrConflict", err)
	}

	inProgress, err := store.UpdateStatus(context.Background(), rec.ID, appointment.StatusInProgress, confirmed.Version)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	completed, err := store.UpdateStatus(context.Background(), rec.ID, appointment.StatusCompleted, inProgress.Version)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	open, _ := store.ListOpen(context.Background(), "")
	if len(open) != 0 {
		t.Errorf("completed record still open")
	}
	if _, err := store.UpdateStatus(context.Background(), rec.ID, appointment.StatusPending, completed.Version); err == nil {
		t.Error("terminal record accepted a transition")
	}
}
