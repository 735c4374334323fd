package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

func normalizedIntake() *triage.NormalizedIntake {
	return &triage.NormalizedIntake{
		Age:         54,
		Gender:      triage.GenderMale,
		Symptoms:    []string{"Chest Pain"},
		BP:          "150/95",
		HeartRate:   130,
		Temperature: 101.0,
	}
}

func TestScoreSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("path = %s, want /analyze", r.URL.Path)
		}
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req["bp"] != "150/95" {
			t.Errorf("bp = %v", req["bp"])
		}
		json.NewEncoder(w).Encode(triage.Assessment{
			RiskLevel:           triage.RiskHigh,
			Department:          "Cardiology",
			Confidence:          92,
			Explanation:         "elevated HR with chest pain",
			ContributingFactors: []string{"Tachycardia"},
		})
	}))
	defer srv.Close()

	client := NewClient(DefaultConfig(srv.URL), nil, nil)
	got, err := client.Score(context.Background(), normalizedIntake())
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if got.RiskLevel != triage.RiskHigh || got.Department != "Cardiology" {
		t.Errorf("assessment = %+v", got)
	}
}

func TestScoreNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(DefaultConfig(srv.URL), nil, nil)
	_, err := client.Score(context.Background(), normalizedIntake())
	if !errors.Is(err, ErrScoringUnavailable) {
		t.Errorf("err = %v, want ErrScoringUnavailable", err)
	}
}

func TestScoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}
	client := NewClient(cfg, nil, nil)
	_, err := client.Score(context.Background(), normalizedIntake())
	if !errors.Is(err, ErrScoringUnavailable) {
		t.Errorf("err = %v, want ErrScoringUnavailable on timeout", err)
	}
}

func TestScoreRejectsContractViolations(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown risk level", `{"risk_level":"Critical","department":"Emergency","confidence":90}`},
		{"confidence out of range", `{"risk_level":"High","department":"Emergency","confidence":120}`},
		{"missing department", `{"risk_level":"High","confidence":90}`},
		{"malformed json", `{"risk_level":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := NewClient(DefaultConfig(srv.URL), nil, nil)
			_, err := client.Score(context.Background(), normalizedIntake())
			if !errors.Is(err, ErrScoringUnavailable) {
				t.Errorf("err = %v, want ErrScoringUnavailable", err)
			}
		})
	}
}

func TestTranslateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("path = %s, want /translate", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"translated_text": "dolor en el pecho"})
	}))
	defer srv.Close()

	tr := NewTranslator(srv.URL, time.Second, nil)
	got := tr.Translate(context.Background(), "chest pain", "Spanish")
	if got != "dolor en el pecho" {
		t.Errorf("translated = %q", got)
	}
}

func TestTranslateDegradesGracefully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewTranslator(srv.URL, time.Second, nil)
	if got := tr.Translate(context.Background(), "chest pain", "Spanish"); got != "chest pain" {
		t.Errorf("degraded translation = %q, want original text", got)
	}

	// Disabled translator passes text through untouched.
	off := NewTranslator("", time.Second, nil)
	if got := off.Translate(context.Background(), "chest pain", "Spanish"); got != "chest pain" {
		t.Errorf("disabled translation = %q", got)
	}
}
