// Package appointment implements the appointment record store: the single
// source of truth for triage records. Queue views and department loads are
// projections over this store and never write back into it.
package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
// Cancellation is terminal, not removal: records are never hard-deleted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// transitions is the full state machine. Anything not listed is rejected.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusInProgress, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// PriorityForRisk maps a risk level to the integer priority score used to
// order the queue. This mapping is policy owned solely by this package.
func PriorityForRisk(r triage.RiskLevel) int {
	switch r {
	case triage.RiskHigh:
		return 90
	case triage.RiskMedium:
		return 50
	default:
		return 20
	}
}

// Record is a persisted triage appointment.
type Record struct {
	ID            string           `json:"id"`
	PatientRef    string           `json:"patient_ref"`
	DoctorRef     string           `json:"doctor_ref,omitempty"`
	Symptoms      []string         `json:"symptoms"`
	SymptomsText  string           `json:"symptoms_text,omitempty"`
	RiskLevel     triage.RiskLevel `json:"risk_level"`
	Department    string           `json:"department"`
	PriorityScore int              `json:"priority_score"`
	Confidence    float64          `json:"confidence"`
	Status        Status           `json:"status"`
	Notes         string           `json:"notes"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Clone returns a copy safe to hand to callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Symptoms = append([]string(nil), r.Symptoms...)
	return &dup
}

// CreateParams carries everything needed to allocate a new record.
type CreateParams struct {
	Intake     *triage.NormalizedIntake
	Assessment *triage.Assessment
	PatientRef string
	DoctorRef  string
}

// newRecord allocates a pending record from a scored intake.
func newRecord(p CreateParams, now time.Time) *Record {
	return &Record{
		ID:            uuid.New().String(),
		PatientRef:    p.PatientRef,
		DoctorRef:     p.DoctorRef,
		Symptoms:      append([]string(nil), p.Intake.Symptoms...),
		SymptomsText:  p.Intake.SymptomsText,
		RiskLevel:     p.Assessment.RiskLevel,
		Department:    p.Assessment.Department,
		PriorityScore: PriorityForRisk(p.Assessment.RiskLevel),
		Confidence:    p.Assessment.Confidence,
		Status:        StatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
