package appointment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chandra-dot-dev/meditriage/internal/alert"
	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

// MemoryStore is an in-memory Store used by tests and single-node dev mode.
// It enforces the same version-CAS discipline as PGStore: a transition whose
// expected version no longer matches fails with ErrConflict.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	notifier alert.Notifier
	logger   *zap.Logger
}

// NewMemoryStore creates an empty store. notifier may be nil.
func NewMemoryStore(notifier alert.Notifier, logger *zap.Logger) *MemoryStore {
	if notifier == nil {
		notifier = alert.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		records:  make(map[string]*Record),
		notifier: notifier,
		logger:   logger,
	}
}

// Create allocates a new pending record.
func (s *MemoryStore) Create(ctx context.Context, p CreateParams) (*Record, error) {
	rec := newRecord(p, time.Now().UTC())

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()

	s.emit(rec, alert.KindCreated)
	return rec.Clone(), nil
}

// Get returns a copy of the record for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// UpdateStatus applies a transition under version CAS.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, newStatus Status, expectedVersion int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Version != expectedVersion {
		return nil, ErrConflict
	}
	if err := checkTransition(rec.Status, newStatus); err != nil {
		return nil, err
	}

	rec.Status = newStatus
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()

	out := rec.Clone()
	s.emit(out, alert.KindStatusChanged)
	return out, nil
}

// UpdateNotes replaces clinical notes on a non-terminal record.
func (s *MemoryStore) UpdateNotes(ctx context.Context, id, notes string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status.Terminal() {
		return nil, &StatusError{Op: "notes update", Status: rec.Status}
	}

	rec.Notes = notes
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()

	out := rec.Clone()
	s.emit(out, alert.KindNotesUpdated)
	return out, nil
}

// AssignDoctor sets the doctor reference while pending or confirmed.
func (s *MemoryStore) AssignDoctor(ctx context.Context, id, doctorRef string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending && rec.Status != StatusConfirmed {
		return nil, &StatusError{Op: "doctor assignment", Status: rec.Status}
	}

	rec.DoctorRef = doctorRef
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return rec.Clone(), nil
}

// ListOpen returns copies of all non-terminal records.
func (s *MemoryStore) ListOpen(ctx context.Context, doctorRef string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Status.Terminal() {
			continue
		}
		if doctorRef != "" && rec.DoctorRef != doctorRef {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

// emit sends one alert per state-changing operation on a high-risk record.
// Notifier implementations are non-blocking, so the write path never waits.
func (s *MemoryStore) emit(rec *Record, kind alert.Kind) {
	if rec.RiskLevel != triage.RiskHigh {
		return
	}
	s.notifier.Notify(alert.Event{
		RecordID:   rec.ID,
		Kind:       kind,
		RiskLevel:  rec.RiskLevel,
		Department: rec.Department,
		DoctorRef:  rec.DoctorRef,
		Status:     string(rec.Status),
		OccurredAt: rec.UpdatedAt,
	})
}
