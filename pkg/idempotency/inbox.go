// Package idempotency guards intake submission against accidental double
// processing. A duplicate submit inside the dedup window returns the result
// of the first attempt instead of scoring the patient a second time.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state of an inbox entry.
type Status string

const (
	StatusStarted  Status = "STARTED"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
)

// Entry is one intake_inbox row.
type Entry struct {
	Key       string
	Status    Status
	Payload   json.RawMessage
	Result    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Config holds inbox configuration.
type Config struct {
	// TTL is how long entries are kept before cleanup.
	TTL time.Duration
	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry is considered abandoned
	// (e.g. process crashed mid-scoring) and may be retried.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sensible defaults for intake deduplication.
func DefaultConfig() Config {
	return Config{
		TTL:             24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 2 * time.Minute,
	}
}

// Inbox manages idempotent intake processing over PostgreSQL.
type Inbox struct {
	pool   *pgxpool.Pool
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an inbox manager.
func NewInbox(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("intake-inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ErrInProgress means another submission for the same key is mid-flight.
var ErrInProgress = errors.New("intake already being processed")

// Result reports what Process did with the submission.
type Result struct {
	// Duplicate is true when the stored result of an earlier submission
	// was returned instead of running fn.
	Duplicate bool
	Payload   json.RawMessage
}

// ProcessFunc runs the actual intake pipeline and returns its serialized
// outcome for replay to duplicates.
type ProcessFunc func(ctx context.Context) (json.RawMessage, error)

// GenerateKey derives a deterministic dedup key for one submission. The
// timestamp is truncated to a minute bucket so a panicked double-click and a
// retried form post collapse to the same key, while a deliberate later
// re-submission does not.
func GenerateKey(patientRef string, symptoms []string, ts time.Time) string {
	parts := []string{
		patientRef,
		strings.Join(symptoms, ","),
		ts.Truncate(time.Minute).UTC().Format(time.RFC3339),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Process runs fn at most once per key. A finished entry replays its stored
// result; a started entry younger than the recovery timeout yields
// ErrInProgress; an abandoned or failed entry is retried.
func (i *Inbox) Process(ctx context.Context, key string, payload json.RawMessage, fn ProcessFunc) (*Result, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(attribute.String("idempotency_key", key)))
	defer span.End()

	entry, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &Result{Duplicate: true, Payload: entry.Result}, nil
		case StatusStarted:
			if time.Since(entry.UpdatedAt) < i.config.RecoveryTimeout {
				return nil, ErrInProgress
			}
			// Abandoned: fall through and retry.
		case StatusFailed:
			// A failed scoring attempt may be retried deliberately.
		}
	}

	if err := i.start(ctx, key, payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the claim race. Another submission inserted the row
			// between our check and our start; replay its result if it
			// already finished, otherwise report it as in flight.
			if entry, getErr := i.getEntry(ctx, key); getErr == nil && entry.Status == StatusFinished {
				span.SetAttributes(attribute.Bool("duplicate", true))
				return &Result{Duplicate: true, Payload: entry.Result}, nil
			}
			return nil, ErrInProgress
		}
		return nil, fmt.Errorf("start processing: %w", err)
	}

	result, fnErr := fn(ctx)
	if fnErr != nil {
		if err := i.mark(ctx, key, StatusFailed, nil, fnErr.Error()); err != nil {
			i.logger.Error("failed to mark inbox failure", zap.Error(err))
		}
		span.RecordError(fnErr)
		return nil, fnErr
	}

	if err := i.mark(ctx, key, StatusFinished, result, ""); err != nil {
		// The pipeline succeeded; a bookkeeping failure must not undo it.
		i.logger.Error("failed to mark inbox finished", zap.Error(err))
	}

	return &Result{Duplicate: false, Payload: result}, nil
}

func (i *Inbox) getEntry(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT idempotency_key, status, payload, result, created_at, updated_at, expires_at
		FROM intake_inbox
		WHERE idempotency_key = $1
	`

	entry := &Entry{}
	err := i.pool.QueryRow(ctx, query, key).Scan(
		&entry.Key, &entry.Status, &entry.Payload, &entry.Result,
		&entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// start claims the key. The upsert only steals an existing row when it is
// FAILED or an abandoned STARTED; losing the claim surfaces as pgx.ErrNoRows.
func (i *Inbox) start(ctx context.Context, key string, payload json.RawMessage) error {
	expiresAt := time.Now().Add(i.config.TTL)
	abandonedBefore := time.Now().Add(-i.config.RecoveryTimeout)

	query := `
		INSERT INTO intake_inbox (idempotency_key, status, payload, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $2, updated_at = NOW()
		WHERE intake_inbox.status = 'FAILED'
		   OR (intake_inbox.status = 'STARTED' AND intake_inbox.updated_at < $5)
		RETURNING idempotency_key
	`

	var claimed string
	return i.pool.QueryRow(ctx, query, key, StatusStarted, payload, expiresAt, abandonedBefore).Scan(&claimed)
}

func (i *Inbox) mark(ctx context.Context, key string, status Status, result json.RawMessage, errMsg string) error {
	if errMsg != "" && result == nil {
		result, _ = json.Marshal(map[string]string{"error": errMsg})
	}

	query := `
		UPDATE intake_inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3
	`
	_, err := i.pool.Exec(ctx, query, status, result, key)
	return err
}

// StartCleanup launches the background expiry sweep.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("intake inbox cleanup started",
		zap.Duration("interval", i.config.CleanupInterval))
}

// Stop halts the cleanup goroutine.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("intake inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	tag, err := i.pool.Exec(ctx, `DELETE FROM intake_inbox WHERE expires_at < NOW()`)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		i.logger.Debug("expired inbox entries removed", zap.Int64("count", n))
	}
	return nil
}
