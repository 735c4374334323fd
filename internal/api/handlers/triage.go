// Package handlers provides HTTP handlers for the triage API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/chandra-dot-dev/meditriage/internal/alert"
	"github.com/chandra-dot-dev/meditriage/internal/api/middleware"
	"github.com/chandra-dot-dev/meditriage/internal/domain/appointment"
	"github.com/chandra-dot-dev/meditriage/internal/observability/metrics"
	"github.com/chandra-dot-dev/meditriage/internal/queue"
	"github.com/chandra-dot-dev/meditriage/internal/scoring"
	"github.com/chandra-dot-dev/meditriage/internal/triage"
	"github.com/chandra-dot-dev/meditriage/internal/wearable"
	"github.com/chandra-dot-dev/meditriage/pkg/idempotency"
)

// Scorer is the risk scoring collaborator as seen by the handler.
type Scorer interface {
	Score(ctx context.Context, in *triage.NormalizedIntake) (*triage.Assessment, error)
}

// Deduper runs the intake pipeline at most once per idempotency key.
type Deduper interface {
	Process(ctx context.Context, key string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.Result, error)
}

// TriageHandler handles intake, queue and appointment endpoints.
type TriageHandler struct {
	store      appointment.Store
	scorer     Scorer
	translator *scoring.Translator
	hub        *alert.Hub
	inbox      Deduper
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewTriageHandler creates a new handler. translator, inbox and metrics may be
// nil; the corresponding features degrade to no-ops.
func NewTriageHandler(store appointment.Store, scorer Scorer, hub *alert.Hub, logger *zap.Logger) *TriageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriageHandler{
		store:  store,
		scorer: scorer,
		hub:    hub,
		logger: logger,
	}
}

// WithTranslator enables free-text translation before scoring.
func (h *TriageHandler) WithTranslator(t *scoring.Translator) *TriageHandler {
	h.translator = t
	return h
}

// WithInbox enables intake deduplication.
func (h *TriageHandler) WithInbox(inbox Deduper) *TriageHandler {
	h.inbox = inbox
	return h
}

// WithMetrics enables Prometheus counters.
func (h *TriageHandler) WithMetrics(m *metrics.Metrics) *TriageHandler {
	h.metrics = m
	return h
}

// Routes returns the handler routes
func (h *TriageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/intakes", h.CreateIntake)
	r.Get("/queue", h.GetQueue)
	r.Get("/departments/load", h.GetDepartmentLoad)
	r.Get("/appointments/{id}", h.GetAppointment)
	r.Patch("/appointments/{id}/status", h.UpdateStatus)
	r.Patch("/appointments/{id}/notes", h.UpdateNotes)
	r.Post("/appointments/{id}/assign", h.AssignDoctor)
	r.Get("/alerts/stream", h.StreamAlerts)
	r.Post("/wearable/analyze", h.AnalyzeWearable)
	return r
}

// IntakeRequest is the request body for submitting a triage intake.
type IntakeRequest struct {
	PatientRef string `json:"patient_ref"`
	DoctorRef  string `json:"doctor_ref,omitempty"`
	// SourceLang is the language of the free-text fields. Anything other
	// than "en" is translated before scoring when a translator is wired.
	SourceLang string `json:"source_lang,omitempty"`
	triage.PatientIntake
}

// IntakeResponse is the response for a scored intake.
type IntakeResponse struct {
	Record     *appointment.Record `json:"record"`
	Assessment *triage.Assessment  `json:"assessment"`
	Duplicate  bool                `json:"duplicate,omitempty"`
}

// CreateIntake handles POST /intakes. The pipeline is normalize, score,
// persist; a scoring failure surfaces as 502 and nothing is persisted.
func (h *TriageHandler) CreateIntake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("triage-handler")
	ctx, span := tracer.Start(ctx, "create_intake")
	defer span.End()

	var req IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientRef == "" {
		h.jsonError(w, "patient_ref is required", http.StatusBadRequest)
		return
	}

	normalized, err := triage.Normalize(&req.PatientIntake)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IntakesRejected.Inc()
		}
		var verr *triage.ValidationError
		if errors.As(err, &verr) {
			h.jsonFieldError(w, verr.Field, verr.Message, http.StatusBadRequest)
			return
		}
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.translator != nil && req.SourceLang != "" && req.SourceLang != "en" {
		normalized.SymptomsText = h.translator.Translate(ctx, normalized.SymptomsText, "en")
	}

	span.SetAttributes(attribute.String("patient_ref", req.PatientRef))

	if h.inbox != nil {
		key := idempotency.GenerateKey(req.PatientRef, normalized.Symptoms, time.Now())
		body, _ := json.Marshal(req)
		result, err := h.inbox.Process(ctx, key, body, func(ctx context.Context) (json.RawMessage, error) {
			resp, err := h.processIntake(ctx, &req, normalized)
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		})
		if err != nil {
			h.writeIntakeError(w, err)
			return
		}
		if result.Duplicate {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(result.Payload)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(result.Payload)
		return
	}

	resp, err := h.processIntake(ctx, &req, normalized)
	if err != nil {
		h.writeIntakeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// processIntake runs score-then-persist for one normalized intake.
func (h *TriageHandler) processIntake(ctx context.Context, req *IntakeRequest, normalized *triage.NormalizedIntake) (*IntakeResponse, error) {
	start := time.Now()
	assessment, err := h.scorer.Score(ctx, normalized)
	if h.metrics != nil {
		h.metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if h.metrics != nil {
			h.metrics.ScoringFailures.Inc()
		}
		return nil, err
	}

	rec, err := h.store.Create(ctx, appointment.CreateParams{
		Intake:     normalized,
		Assessment: assessment,
		PatientRef: req.PatientRef,
		DoctorRef:  req.DoctorRef,
	})
	if err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.IntakesAccepted.Inc()
		h.metrics.RecordsByRisk.WithLabelValues(string(rec.RiskLevel)).Inc()
	}

	h.logger.Info("intake scored",
		zap.String("record_id", rec.ID),
		zap.String("risk_level", string(rec.RiskLevel)),
		zap.String("department", rec.Department),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	return &IntakeResponse{Record: rec, Assessment: assessment}, nil
}

func (h *TriageHandler) writeIntakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scoring.ErrScoringUnavailable):
		h.jsonError(w, "risk scoring unavailable, please retry", http.StatusBadGateway)
	case errors.Is(err, idempotency.ErrInProgress):
		h.jsonError(w, "intake already being processed", http.StatusConflict)
	default:
		h.logger.Error("intake failed", zap.Error(err))
		h.jsonError(w, "failed to process intake", http.StatusInternalServerError)
	}
}

// GetQueue handles GET /queue. An optional doctor_ref narrows the view.
func (h *TriageHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doctorRef := r.URL.Query().Get("doctor_ref")

	records, err := h.store.ListOpen(ctx, doctorRef)
	if err != nil {
		h.logger.Error("list open failed", zap.Error(err))
		h.jsonError(w, "failed to load queue", http.StatusInternalServerError)
		return
	}

	ordered := queue.CurrentQueue(records)
	if h.metrics != nil && doctorRef == "" {
		h.metrics.QueueDepth.Set(float64(len(ordered)))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"queue": ordered,
		"count": len(ordered),
	})
}

// GetDepartmentLoad handles GET /departments/load
func (h *TriageHandler) GetDepartmentLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.store.ListOpen(ctx, "")
	if err != nil {
		h.logger.Error("list open failed", zap.Error(err))
		h.jsonError(w, "failed to load departments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"departments": queue.Loads(records),
	})
}

// GetAppointment handles GET /appointments/{id}
func (h *TriageHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			h.jsonError(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		h.jsonError(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// StatusRequest is the body for PATCH /appointments/{id}/status. The caller
// echoes the version it observed so concurrent updates are detected.
type StatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int64  `json:"expected_version"`
}

// UpdateStatus handles PATCH /appointments/{id}/status
func (h *TriageHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newStatus := appointment.Status(req.Status)
	if !newStatus.Valid() {
		h.jsonError(w, fmt.Sprintf("unknown status %q", req.Status), http.StatusBadRequest)
		return
	}
	if req.ExpectedVersion <= 0 {
		h.jsonError(w, "expected_version is required", http.StatusBadRequest)
		return
	}

	rec, err := h.store.UpdateStatus(ctx, id, newStatus, req.ExpectedVersion)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.logger.Info("status updated",
		zap.String("record_id", id),
		zap.String("status", string(newStatus)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// NotesRequest is the body for PATCH /appointments/{id}/notes
type NotesRequest struct {
	Notes string `json:"notes"`
}

// UpdateNotes handles PATCH /appointments/{id}/notes
func (h *TriageHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req NotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.store.UpdateNotes(ctx, id, req.Notes)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// AssignRequest is the body for POST /appointments/{id}/assign
type AssignRequest struct {
	DoctorRef string `json:"doctor_ref"`
}

// AssignDoctor handles POST /appointments/{id}/assign
func (h *TriageHandler) AssignDoctor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DoctorRef == "" {
		h.jsonError(w, "doctor_ref is required", http.StatusBadRequest)
		return
	}

	rec, err := h.store.AssignDoctor(ctx, id, req.DoctorRef)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// writeStoreError maps store errors to status codes. A version conflict is
// 409 and recoverable by re-reading; an invalid transition is 422 and is not.
func (h *TriageHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrNotFound):
		h.jsonError(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, appointment.ErrConflict):
		h.jsonError(w, "version conflict, reload and retry", http.StatusConflict)
	case errors.Is(err, appointment.ErrInvalidTransition):
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("store operation failed", zap.Error(err))
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// StreamAlerts handles GET /alerts/stream as server-sent events. The scope
// query parameters select the admin, doctor or department view.
func (h *TriageHandler) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	scope, err := parseScope(r)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, cancel := h.hub.Subscribe(scope)
	defer cancel()

	if h.metrics != nil {
		h.metrics.StreamSubscribers.Inc()
		defer h.metrics.StreamSubscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Heartbeat keeps intermediaries from closing an idle stream.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data)
			flusher.Flush()
		}
	}
}

func parseScope(r *http.Request) (alert.Scope, error) {
	kind := r.URL.Query().Get("scope")
	value := r.URL.Query().Get("value")

	switch alert.ScopeKind(kind) {
	case alert.ScopeAdmin, "":
		return alert.Scope{Kind: alert.ScopeAdmin}, nil
	case alert.ScopeDoctor:
		if value == "" {
			return alert.Scope{}, errors.New("doctor scope requires value")
		}
		return alert.Scope{Kind: alert.ScopeDoctor, Value: value}, nil
	case alert.ScopeDepartment:
		if value == "" {
			return alert.Scope{}, errors.New("department scope requires value")
		}
		return alert.Scope{Kind: alert.ScopeDepartment, Value: value}, nil
	}
	return alert.Scope{}, fmt.Errorf("unknown scope %q", kind)
}

// WearableResponse is the response for POST /wearable/analyze
type WearableResponse struct {
	Hint       *triage.RiskHint `json:"hint"`
	Factors    []string         `json:"factors"`
	Department string           `json:"department"`
}

// AnalyzeWearable handles POST /wearable/analyze
func (h *TriageHandler) AnalyzeWearable(w http.ResponseWriter, r *http.Request) {
	var streams wearable.Streams
	if err := json.NewDecoder(r.Body).Decode(&streams); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(streams.HeartRate) == 0 && len(streams.OxygenLevel) == 0 {
		h.jsonError(w, "at least one stream is required", http.StatusBadRequest)
		return
	}

	hint, factors := wearable.Analyze(streams)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WearableResponse{
		Hint:       hint,
		Factors:    factors,
		Department: wearable.Department(factors),
	})
}

func (h *TriageHandler) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *TriageHandler) jsonFieldError(w http.ResponseWriter, field, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "field": field})
}
