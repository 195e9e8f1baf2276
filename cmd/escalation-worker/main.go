// Package main provides the escalation worker entry point. It consumes
// failed-order reports and delivers them to the operations webhook so a
// human picks up every order automation gave up on.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/escalation"
	"github.com/quartzhealth/portalbridge/internal/infrastructure/redpanda"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	webhookURL := os.Getenv("ESCALATION_WEBHOOK_URL")
	if webhookURL == "" {
		logger.Fatal("ESCALATION_WEBHOOK_URL is required")
	}

	groupID := os.Getenv("CONSUMER_GROUP")
	if groupID == "" {
		groupID = "escalation-worker"
	}

	notifier := escalation.NewWebhookNotifier(webhookURL, 10*time.Second, logger)

	handler := func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		var report escalation.Report
		if err := json.Unmarshal(msg.Value, &report); err != nil {
			// Malformed reports are logged and committed; redriving them
			// can never succeed.
			logger.Error("malformed escalation report",
				zap.String("key", string(msg.Key)),
				zap.Error(err))
			return nil
		}

		if err := notifier.Notify(ctx, report); err != nil {
			return fmt.Errorf("deliver report for order %s: %w", report.OrderID, err)
		}
		logger.Info("escalation handed off",
			zap.String("order_id", report.OrderID),
			zap.String("class", string(report.Class)),
			zap.String("summary", report.Summary()))
		return nil
	}

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers
	consumerCfg.GroupID = groupID
	consumerCfg.Topics = []string{redpanda.TopicOrderFailures}

	consumer, err := redpanda.NewConsumer(consumerCfg, handler, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("escalation worker started",
		zap.Strings("brokers", brokers),
		zap.String("topic", redpanda.TopicOrderFailures))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop failed", zap.Error(err))
	}
	logger.Info("escalation worker stopped")
}
