package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/chandra-dot-dev/meditriage/internal/alert"
	"github.com/chandra-dot-dev/meditriage/internal/infrastructure/postgres"
	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

// PGStore is the PostgreSQL-backed record store. Mutations run in a
// transaction together with their alert outbox entry; the in-process
// notifier fires only after commit.
type PGStore struct {
	pool       *pgxpool.Pool
	notifier   alert.Notifier
	alertTopic string
	logger     *zap.Logger
}

// NewPGStore creates a store over the given pool. notifier may be nil.
func NewPGStore(pool *pgxpool.Pool, notifier alert.Notifier, alertTopic string, logger *zap.Logger) *PGStore {
	if notifier == nil {
		notifier = alert.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{
		pool:       pool,
		notifier:   notifier,
		alertTopic: alertTopic,
		logger:     logger,
	}
}

const recordColumns = `
	id, patient_ref, doctor_ref, symptoms, symptoms_text, risk_level,
	department, priority_score, confidence, status, notes, version,
	created_at, updated_at
`

// Create allocates a new pending record atomically with its alert entry.
func (s *PGStore) Create(ctx context.Context, p CreateParams) (*Record, error) {
	rec := newRecord(p, time.Now().UTC())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO appointments
		(id, patient_ref, doctor_ref, symptoms, symptoms_text, risk_level,
		 department, priority_score, confidence, status, notes, version,
		 created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.Exec(ctx, query,
		rec.ID, rec.PatientRef, rec.DoctorRef, rec.Symptoms, rec.SymptomsText,
		rec.RiskLevel, rec.Department, rec.PriorityScore, rec.Confidence,
		rec.Status, rec.Notes, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := s.writeAlert(ctx, tx, rec, alert.KindCreated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.notify(rec, alert.KindCreated)
	return rec, nil
}

// Get returns the record for id.
func (s *PGStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM appointments WHERE id = $1`, id)
	return scanRecord(row)
}

// UpdateStatus applies a transition with compare-and-swap on version. The
// version predicate in the UPDATE guarantees exactly one of two concurrent
// conflicting transitions commits; the other sees ErrConflict.
func (s *PGStore) UpdateStatus(ctx context.Context, id string, newStatus Status, expectedVersion int64) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.lockRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, ErrConflict
	}
	if err := checkTransition(current.Status, newStatus); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
		RETURNING `+recordColumns,
		id, newStatus, expectedVersion)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if err := s.writeAlert(ctx, tx, rec, alert.KindStatusChanged); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.notify(rec, alert.KindStatusChanged)
	return rec, nil
}

// UpdateNotes replaces clinical notes on a non-terminal record.
func (s *PGStore) UpdateNotes(ctx context.Context, id, notes string) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.lockRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, &StatusError{Op: "notes update", Status: current.Status}
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET notes = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns,
		id, notes)

	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}

	if err := s.writeAlert(ctx, tx, rec, alert.KindNotesUpdated); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.notify(rec, alert.KindNotesUpdated)
	return rec, nil
}

// AssignDoctor sets the doctor reference while pending or confirmed.
func (s *PGStore) AssignDoctor(ctx context.Context, id, doctorRef string) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.lockRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending && current.Status != StatusConfirmed {
		return nil, &StatusError{Op: "doctor assignment", Status: current.Status}
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_ref = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordColumns,
		id, doctorRef)

	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// ListOpen returns all non-terminal records, optionally scoped to a doctor.
// Served by the (status, doctor_ref) index.
func (s *PGStore) ListOpen(ctx context.Context, doctorRef string) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM appointments
		WHERE status NOT IN ('completed', 'cancelled')
	`
	args := []interface{}{}
	if doctorRef != "" {
		query += ` AND doctor_ref = $1`
		args = append(args, doctorRef)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open appointments: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// lockRecord loads a record FOR UPDATE so concurrent mutations serialize.
func (s *PGStore) lockRecord(ctx context.Context, tx pgx.Tx, id string) (*Record, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanRecord(row)
}

// writeAlert adds a durable outbox entry for high-risk state changes.
func (s *PGStore) writeAlert(ctx context.Context, tx pgx.Tx, rec *Record, kind alert.Kind) error {
	if rec.RiskLevel != triage.RiskHigh {
		return nil
	}

	payload, err := json.Marshal(alert.Event{
		RecordID:   rec.ID,
		Kind:       kind,
		RiskLevel:  rec.RiskLevel,
		Department: rec.Department,
		DoctorRef:  rec.DoctorRef,
		Status:     string(rec.Status),
		OccurredAt: rec.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		RecordID:  rec.ID,
		EventType: string(kind),
		Payload:   payload,
		Topic:     s.alertTopic,
		Key:       rec.ID,
	})
}

// notify fires the in-process fanout after a successful commit. Failures in
// subscribers never surface here; the Notifier contract is non-blocking.
func (s *PGStore) notify(rec *Record, kind alert.Kind) {
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var doctorRef *string
	err := row.Scan(
		&rec.ID, &rec.PatientRef, &doctorRef, &rec.Symptoms, &rec.SymptomsText,
		&rec.RiskLevel, &rec.Department, &rec.PriorityScore, &rec.Confidence,
		&rec.Status, &rec.Notes, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	if doctorRef != nil {
		rec.DoctorRef = *doctorRef
	}
	return rec, nil
}
