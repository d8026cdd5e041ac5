// The worker binary sweeps the outbox on a fixed interval, delivering due
// messages and advancing retry/dead-letter state.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citizen-access-plane/internal/audit"
	auditrepo "citizen-access-plane/internal/audit/repository"
	"citizen-access-plane/internal/config"
	"citizen-access-plane/internal/db"
	"citizen-access-plane/internal/outbox"
	outboxrepo "citizen-access-plane/internal/outbox/repository"
	"citizen-access-plane/internal/outbox/sms"
	"citizen-access-plane/internal/security"
	"citizen-access-plane/internal/telemetry"
	"citizen-access-plane/internal/telemetry/producer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	emitter, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		logger.Error("kafka producer", "err", err)
		os.Exit(1)
	}
	var eventEmitter telemetry.EventEmitter
	if emitter != nil {
		eventEmitter = emitter
		defer emitter.Close()
	}

	hasher := security.NewHasher(cfg.HashSecret)
	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(database), nil)

	var smsProvider outbox.Provider
	if cfg.SMSLocalAPIKey != "" {
		smsProvider = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	} else {
		logger.Warn("no SMS provider configured; messages will be dropped by the no-op client")
		smsProvider = sms.NewNoopClient()
	}
	dispatcher := outbox.NewDispatcher(
		outboxrepo.NewPostgresRepository(database), smsProvider, hasher, auditor, eventEmitter,
		cfg.OutboxMaxRetry, cfg.BackoffBase(), cfg.BackoffCap())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cfg.SweepInterval()
	logger.Info("outbox worker started", "interval", interval.String(), "limit", cfg.OutboxSweepLimit)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep(ctx, dispatcher, cfg.OutboxSweepLimit, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox worker stopping")
			time.Sleep(telemetry.ShutdownDrainDuration)
			return
		case <-ticker.C:
			sweep(ctx, dispatcher, cfg.OutboxSweepLimit, logger)
		}
	}
}

func sweep(ctx context.Context, d *outbox.Dispatcher, limit int, logger *slog.Logger) {
	sum, err := d.DispatchDue(ctx, limit)
	if err != nil {
		logger.Error("sweep", "err", err)
		return
	}
	if sum.Claimed > 0 {
		logger.Info("sweep",
			"claimed", sum.Claimed,
			"sent", sum.Sent,
			"retried", sum.Retried,
			"dead", sum.Dead,
			"skipped", sum.Skipped)
	}
}
