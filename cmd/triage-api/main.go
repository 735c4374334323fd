// Package main provides the triage API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/chandra-dot-dev/meditriage/internal/alert"
	"github.com/chandra-dot-dev/meditriage/internal/api/handlers"
	"github.com/chandra-dot-dev/meditriage/internal/api/middleware"
	"github.com/chandra-dot-dev/meditriage/internal/domain/appointment"
	"github.com/chandra-dot-dev/meditriage/internal/infrastructure/redpanda"
	"github.com/chandra-dot-dev/meditriage/internal/observability/metrics"
	"github.com/chandra-dot-dev/meditriage/internal/observability/tracing"
	"github.com/chandra-dot-dev/meditriage/internal/scoring"
	"github.com/chandra-dot-dev/meditriage/pkg/circuitbreaker"
	"github.com/chandra-dot-dev/meditriage/pkg/idempotency"
)

// Config holds application configuration
type Config struct {
	Port         string
	DatabaseURL  string
	ScoringURL   string
	OTLPEndpoint string
	APIKeys      map[string]string
	LogLevel     string
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := loadConfig()

	// Tracing
	tp, err := tracing.Init(context.Background(), tracingConfig(cfg))
	if err != nil {
		logger.Warn("tracing init failed, continuing without traces", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	m := metrics.New()
	hub := alert.NewHub(logger)
	hub.OnDrop(m.AlertsDropped.Inc)
	notifier := &meteredNotifier{hub: hub, metrics: m}

	// Store: Postgres when a database is configured, in-memory otherwise so
	// the service can run standalone in development.
	var store appointment.Store
	var pool *pgxpool.Pool
	var inbox *idempotency.Inbox

	if cfg.DatabaseURL != "" && cfg.DatabaseURL != "memory" {
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(context.Background()); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")

		store = appointment.NewPGStore(pool, notifier, redpanda.TopicTriageAlerts, logger)

		inbox = idempotency.NewInbox(pool, idempotency.DefaultConfig(), logger)
		inbox.StartCleanup()
		defer inbox.Stop()
	} else {
		logger.Info("using in-memory store")
		store = appointment.NewMemoryStore(notifier, logger)
	}

	// Risk scoring collaborator behind a circuit breaker
	cbManager := circuitbreaker.NewManager(logger)
	breaker, err := cbManager.GetOrCreate("risk-scoring", circuitbreaker.DefaultConfig("risk-scoring"))
	if err != nil {
		logger.Fatal("breaker creation failed", zap.Error(err))
	}
	breaker.SetStateHook(func(name string, s circuitbreaker.State) {
		m.BreakerState.WithLabelValues(name).Set(breakerStateValue(s))
	})

	scorer := scoring.NewClient(scoring.DefaultConfig(cfg.ScoringURL), breaker, logger)
	translator := scoring.NewTranslator(cfg.ScoringURL, 10*time.Second, logger)

	triageHandler := handlers.NewTriageHandler(store, scorer, hub, logger).
		WithTranslator(translator).
		WithMetrics(m)
	if inbox != nil {
		triageHandler.WithInbox(inbox)
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("triage-api"))

	// Health and metrics (no auth)
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	// API routes (with auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/", triageHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the alert stream holds connections open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting triage API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func loadConfig() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	scoringURL := os.Getenv("SCORING_URL")
	if scoringURL == "" {
		scoringURL = "http://localhost:8000"
	}

	apiKeys := map[string]string{
		"kiosk-api-key-12345": "intake-kiosk",
		"nurse-api-key-67890": "nurse-station",
		"dash-api-key-24680":  "dashboard",
	}
	if key := os.Getenv("API_KEY"); key != "" {
		apiKeys[key] = "env-client"
	}

	return Config{
		Port:         port,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		ScoringURL:   scoringURL,
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		APIKeys:      apiKeys,
		LogLevel:     os.Getenv("LOG_LEVEL"),
	}
}

func tracingConfig(cfg Config) tracing.Config {
	tc := tracing.DefaultConfig("triage-api")
	if cfg.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.OTLPEndpoint
	}
	return tc
}

// meteredNotifier counts published alerts on their way into the hub.
type meteredNotifier struct {
	hub     *alert.Hub
	metrics *metrics.Metrics
}

func (n *meteredNotifier) Notify(e alert.Event) {
	n.metrics.AlertsPublished.Inc()
	n.hub.Notify(e)
}

func breakerStateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"triage-api","version":"1.0.0"}`)
}
