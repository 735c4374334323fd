package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestGenerateKeyDeterminism(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	symptoms := []string{"Chest Pain", "Fever"}

	key1 := GenerateKey("patient-1", symptoms, ts)
	key2 := GenerateKey("patient-1", symptoms, ts)
	if key1 != key2 {
		t.Error("same inputs should produce the same key")
	}

	// Same minute bucket collapses to the same key.
	key3 := GenerateKey("patient-1", symptoms, ts.Add(30*time.Second))
	if key1 != key3 {
		t.Error("submissions within the same minute should dedupe")
	}

	// A deliberate later re-submission is a new attempt.
	key4 := GenerateKey("patient-1", symptoms, ts.Add(2*time.Minute))
	if key1 == key4 {
		t.Error("submissions minutes apart should not dedupe")
	}

	key5 := GenerateKey("patient-2", symptoms, ts)
	if key1 == key5 {
		t.Error("different patients should not collide")
	}

	key6 := GenerateKey("patient-1", []string{"Headache"}, ts)
	if key1 == key6 {
		t.Error("different symptoms should not collide")
	}
}

func newTestInbox(t *testing.T) (*Inbox, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	createSQL := `CREATE TABLE IF NOT EXISTS intake_inbox (
		idempotency_key TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		payload JSONB,
		result JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ
	)`
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		t.Fatalf("create table: %v", err)
	}

	return NewInbox(pool, DefaultConfig(), nil), pool
}

// Two submissions racing on the same key must run the pipeline exactly once.
// The loser either replays the winner's stored result or is told the intake
// is still in flight.
func TestConcurrentSubmissionsProcessOnce(t *testing.T) {
	inbox, pool := newTestInbox(t)
	ctx := context.Background()

	key := GenerateKey("patient-race", []string{"Chest Pain"}, time.Now())
	if _, err := pool.Exec(ctx, `DELETE FROM intake_inbox WHERE idempotency_key = $1`, key); err != nil {
		t.Fatalf("reset key: %v", err)
	}

	var calls int32
	stored := json.RawMessage(`{"record_id":"rec-race"}`)
	fn := func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return stored, nil
	}

	results := make([]*Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for n := 0; n < 2; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = inbox.Process(ctx, key, json.RawMessage(`{}`), fn)
		}(n)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("pipeline ran %d times, want exactly 1", got)
	}

	wins := 0
	for n := 0; n < 2; n++ {
		switch {
		case errs[n] == nil && !results[n].Duplicate:
			wins++
		case errs[n] == nil && results[n].Duplicate:
			if !bytes.Equal(results[n].Payload, stored) {
				t.Errorf("replayed payload = %s, want %s", results[n].Payload, stored)
			}
		case errors.Is(errs[n], ErrInProgress):
		default:
			t.Fatalf("submission %d: unexpected error %v", n, errs[n])
		}
	}
	if wins != 1 {
		t.Errorf("got %d first-run results, want 1", wins)
	}

	// A later submission with the same key replays the stored outcome.
	replay, err := inbox.Process(ctx, key, json.RawMessage(`{}`), fn)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Duplicate {
		t.Error("finished entry should replay as a duplicate")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("replay ran the pipeline again, calls = %d", got)
	}
}

// A failed attempt does not poison the key; the next submission retries.
func TestFailedAttemptIsRetryable(t *testing.T) {
	inbox, pool := newTestInbox(t)
	ctx := context.Background()

	key := GenerateKey("patient-retry", []string{"Fever"}, time.Now())
	if _, err := pool.Exec(ctx, `DELETE FROM intake_inbox WHERE idempotency_key = $1`, key); err != nil {
		t.Fatalf("reset key: %v", err)
	}

	scoringDown := errors.New("scoring unavailable")
	if _, err := inbox.Process(ctx, key, json.RawMessage(`{}`), func(ctx context.Context) (json.RawMessage, error) {
		return nil, scoringDown
	}); !errors.Is(err, scoringDown) {
		t.Fatalf("first attempt error = %v, want %v", err, scoringDown)
	}

	res, err := inbox.Process(ctx, key, json.RawMessage(`{}`), func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"record_id":"rec-retry"}`), nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Duplicate {
		t.Error("retry after failure should run the pipeline, not replay")
	}
}
