package appointment

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for store operations. Handlers map each to a distinct
// response so staff can tell a stale view from a refused action.
var (
	// ErrNotFound means the id does not reference any record.
	ErrNotFound = errors.New("appointment not found")
	// ErrInvalidTransition means the requested status change is outside the
	// state machine. State is not mutated.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict means the record changed since the caller last read it.
	// The caller must re-read current state before retrying.
	ErrConflict = errors.New("appointment was modified concurrently")
)

// TransitionError wraps ErrInvalidTransition with the offending pair.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StatusError reports a non-transition operation rejected by the record's
// current status, such as editing notes on a cancelled record.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrInvalidTransition }

// Store is the appointment record store contract. PGStore is the production
// implementation; MemoryStore backs tests and single-node dev mode.
type Store interface {
	// Create allocates a new pending record. Atomic: either the record and
	// its alert outbox entry are persisted together or nothing is.
	Create(ctx context.Context, p CreateParams) (*Record, error)

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// UpdateStatus applies a state-machine transition using compare-and-swap
	// on the record version. expectedVersion is the version the caller
	// observed; a mismatch at commit time yields ErrConflict, so two
	// concurrent conflicting transitions can never both succeed.
	UpdateStatus(ctx context.Context, id string, newStatus Status, expectedVersion int64) (*Record, error)

	// UpdateNotes replaces clinical notes. Allowed in any non-terminal
	// status; always bumps the updated timestamp and version.
	UpdateNotes(ctx context.Context, id, notes string) (*Record, error)

	// AssignDoctor sets the doctor reference. Allowed only while the record
	// is pending or confirmed.
	AssignDoctor(ctx context.Context, id, doctorRef string) (*Record, error)

	// ListOpen returns all non-terminal records, optionally scoped to a
	// doctor. Ordering is the projection's concern, not the store's.
	ListOpen(ctx context.Context, doctorRef string) ([]*Record, error)
}

// checkTransition validates a requested transition against the table.
func checkTransition(from, to Status) error {
	if !to.Valid() {
		return &TransitionError{From: from, To: to}
	}
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
