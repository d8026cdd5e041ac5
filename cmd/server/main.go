// The server binary runs the citizen access HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citizen-access-plane/internal/audit"
	auditrepo "citizen-access-plane/internal/audit/repository"
	caserepo "citizen-access-plane/internal/casefile/repository"
	"citizen-access-plane/internal/config"
	"citizen-access-plane/internal/db"
	"citizen-access-plane/internal/devotp"
	"citizen-access-plane/internal/otp"
	otprepo "citizen-access-plane/internal/otp/repository"
	"citizen-access-plane/internal/outbox"
	outboxrepo "citizen-access-plane/internal/outbox/repository"
	"citizen-access-plane/internal/outbox/sms"
	"citizen-access-plane/internal/security"
	"citizen-access-plane/internal/server"
	sessionrepo "citizen-access-plane/internal/session/repository"
	"citizen-access-plane/internal/session/service"
	"citizen-access-plane/internal/telemetry"
	telemetryotel "citizen-access-plane/internal/telemetry/otel"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "citizen-access-server")
	if err != nil {
		logger.Error("otel", "err", err)
		os.Exit(1)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

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
	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(database), server.ClientIPFromContext)

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

	sessions := sessionrepo.NewPostgresRepository(database)
	cases := caserepo.NewPostgresRepository(database)
	manager := service.NewManager(sessions, cases, dispatcher, hasher, auditor, eventEmitter,
		cfg.InviteTTL(), cfg.PublicBaseURL, cfg.DemoMode, cfg.UnknownTokenPolicy)

	var devStore devotp.Store
	if cfg.OTPReturnToClient {
		devStore = devotp.NewMemoryStore()
	}
	verifier := otp.NewVerifier(otprepo.NewPostgresRepository(database), sessions, dispatcher,
		hasher, devStore, auditor, eventEmitter,
		cfg.OTPTTL(), cfg.OTPMaxAttempts, cfg.OTPWindow(), cfg.OTPReturnToClient)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(manager, verifier, devStore, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	time.Sleep(telemetry.ShutdownDrainDuration)
}
