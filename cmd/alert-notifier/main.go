// Package main provides the alert notifier service entry point.
// Consumes high-risk triage alerts and delivers them to dashboard webhooks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chandra-dot-dev/meditriage/internal/alert"
	"github.com/chandra-dot-dev/meditriage/internal/infrastructure/redpanda"
	"github.com/chandra-dot-dev/meditriage/pkg/circuitbreaker"
	"github.com/chandra-dot-dev/meditriage/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	webhookURL := os.Getenv("WEBHOOK_URL")
	if webhookURL == "" {
		logger.Info("WEBHOOK_URL not set, alerts will be logged only")
	}

	cbManager := circuitbreaker.NewManager(logger)
	breaker, err := cbManager.GetOrCreate("dashboard-webhook", circuitbreaker.DefaultConfig("dashboard-webhook"))
	if err != nil {
		logger.Fatal("breaker creation failed", zap.Error(err))
	}

	deliverer := &webhookDeliverer{
		url:     webhookURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: breaker,
		logger:  logger,
	}

	poolCfg := workerpool.DefaultConfig()
	pool, err := workerpool.New(poolCfg, deliverer.deliver, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}

	pool.Start()
	defer pool.Stop()

	// Drain delivery results so the channel never backs up
	go func() {
		for result := range pool.Results() {
			if !result.Success {
				logger.Warn("alert delivery failed",
					zap.String("task_id", result.TaskID),
					zap.Error(result.Error))
			}
		}
	}()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers
	consumerCfg.Topics = []string{redpanda.TopicTriageAlerts}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		var ev alert.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			// Malformed payloads are logged and skipped, not retried forever
			logger.Error("malformed alert payload",
				zap.String("key", string(msg.Key)),
				zap.Error(err))
			return nil
		}

		return pool.Submit(&workerpool.Task{
			ID:      fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset),
			Payload: &ev,
			Context: ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("alert notifier started",
		zap.Strings("brokers", brokers),
		zap.String("topic", redpanda.TopicTriageAlerts))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	logger.Info("alert notifier stopped")
}

// webhookDeliverer posts alert events to the configured dashboard webhook.
// Deliveries run through a circuit breaker so a dead dashboard sheds load
// instead of tying up workers on timeouts.
type webhookDeliverer struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

func (d *webhookDeliverer) deliver(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	ev, ok := task.Payload.(*alert.Event)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false,
			Error: fmt.Errorf("unexpected payload type %T", task.Payload)}
	}

	if d.url == "" {
		d.logger.Info("high-risk alert",
			zap.String("record_id", ev.RecordID),
			zap.String("kind", string(ev.Kind)),
			zap.String("department", ev.Department),
			zap.String("status", ev.Status))
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	_, err = d.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, d.post(ctx, body)
	})
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	return &workerpool.Result{TaskID: task.ID, Success: true}
}

func (d *webhookDeliverer) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
