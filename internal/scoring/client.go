// Package scoring provides the client for the external risk scoring
// collaborator. The classification algorithm is not implemented here: this
// system depends on a capability it does not own, so the client's whole job
// is bounding that dependency (timeout, circuit breaking, strict response
// validation).
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chandra-dot-dev/meditriage/internal/triage"
	"github.com/chandra-dot-dev/meditriage/pkg/circuitbreaker"
)

// ErrScoringUnavailable means the collaborator was unreachable, timed out,
// or returned a payload that violates its contract. It is never resolved by
// guessing a risk level: the caller surfaces "try again" to the user, and a
// retry is an explicit new attempt, not an automatic one.
var ErrScoringUnavailable = errors.New("scoring service unavailable")

// Config holds scoring client configuration.
type Config struct {
	// BaseURL is the collaborator's address, e.g. http://localhost:8000.
	BaseURL string
	// Timeout bounds one scoring round-trip.
	Timeout time.Duration
}

// DefaultConfig returns the default scoring client configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Client calls the scoring collaborator.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClient creates a scoring client. breaker may be nil to disable circuit
// breaking (tests).
func NewClient(cfg Config, breaker *circuitbreaker.Breaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig(cfg.BaseURL).Timeout
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("scoring-client"),
	}
}

// scoreRequest is the collaborator's wire contract.
type scoreRequest struct {
	Age          int      `json:"age"`
	Gender       string   `json:"gender"`
	Symptoms     []string `json:"symptoms"`
	SymptomsText string   `json:"symptoms_text"`
	BP           string   `json:"bp"`
	HeartRate    int      `json:"heart_rate"`
	Temperature  float64  `json:"temperature"`
	Conditions   []string `json:"conditions"`
	EHRText      string   `json:"ehr_text,omitempty"`
}

// Score sends a normalized intake to the collaborator and returns its
// assessment. Failures of any kind map to ErrScoringUnavailable; the client
// never retries on its own, since scoring the same patient twice must be a
// deliberate caller decision.
func (c *Client) Score(ctx context.Context, in *triage.NormalizedIntake) (*triage.Assessment, error) {
	ctx, span := c.tracer.Start(ctx, "score_intake",
		trace.WithAttributes(attribute.Int("symptom_count", len(in.Symptoms))))
	defer span.End()

	call := func() (interface{}, error) {
		return c.score(ctx, in)
	}

	var result interface{}
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(ctx, call)
	} else {
		result, err = call()
	}
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("scoring call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	return result.(*triage.Assessment), nil
}

func (c *Client) score(ctx context.Context, in *triage.NormalizedIntake) (*triage.Assessment, error) {
	body, err := json.Marshal(scoreRequest{
		Age:          in.Age,
		Gender:       string(in.Gender),
		Symptoms:     in.Symptoms,
		SymptomsText: in.SymptomsText,
		BP:           in.BP,
		HeartRate:    in.HeartRate,
		Temperature:  in.Temperature,
		Conditions:   in.Conditions,
		EHRText:      in.EHRText,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring returned status %d", resp.StatusCode)
	}

	var assessment triage.Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// A structurally invalid assessment is a contract violation from the
	// collaborator; trusting it would mean persisting a guessed risk level.
	if err := assessment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid assessment: %w", err)
	}
	return &assessment, nil
}
