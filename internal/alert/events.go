// Package alert implements notification fanout for high-risk triage records.
// The store publishes exactly one event per state-changing operation; delivery
// is best-effort and never blocks the write path.
package alert

import (
	"time"

	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

// Kind identifies the state change that produced an event.
type Kind string

const (
	KindCreated       Kind = "created"
	KindStatusChanged Kind = "status_changed"
	KindNotesUpdated  Kind = "notes_updated"
)

// Event is one alert for one logical change to a record.
type Event struct {
	ID         string           `json:"id"`
	RecordID   string           `json:"record_id"`
	Kind       Kind             `json:"kind"`
	RiskLevel  triage.RiskLevel `json:"risk_level"`
	Department string           `json:"department"`
	DoctorRef  string           `json:"doctor_ref,omitempty"`
	Status     string           `json:"status"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// ScopeKind selects which view a subscriber follows.
type ScopeKind string

const (
	ScopeAdmin      ScopeKind = "admin"
	ScopeDoctor     ScopeKind = "doctor"
	ScopeDepartment ScopeKind = "department"
)

// Scope restricts a subscription to the relevant doctor/department/admin view.
type Scope struct {
	Kind  ScopeKind
	Value string
}

// Matches reports whether an event belongs to the scope. Admin sees all.
func (s Scope) Matches(e Event) bool {
	switch s.Kind {
	case ScopeAdmin:
		return true
	case ScopeDoctor:
		return e.DoctorRef != "" && e.DoctorRef == s.Value
	case ScopeDepartment:
		return e.Department == s.Value
	}
	return false
}

// Notifier is the store-facing side of the fanout. Implementations must not
// block: a failed or slow delivery is logged, never propagated to the write.
type Notifier interface {
	Notify(e Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
