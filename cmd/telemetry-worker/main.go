// The telemetry-worker binary consumes telemetry events from Kafka and pushes
// them to Loki as labeled log lines.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"citizen-access-plane/internal/config"
	"citizen-access-plane/internal/telemetry/loki"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}
	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		logger.Error("KAFKA_BROKERS must be set for the telemetry worker")
		os.Exit(1)
	}
	if cfg.LokiURL == "" {
		logger.Error("LOKI_URL must be set for the telemetry worker")
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("telemetry worker started",
		"topic", cfg.TelemetryKafkaTopic, "group", cfg.KafkaGroupID, "loki", cfg.LokiURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("telemetry worker stopping")
				return
			}
			logger.Error("read", "err", err)
			continue
		}
		if err := loki.PushEventJSON(ctx, cfg.LokiURL, msg.Value); err != nil {
			// The offset is already committed; an event lost to a Loki outage
			// is acceptable for telemetry.
			logger.Error("loki push", "err", err, "offset", msg.Offset)
		}
	}
}
