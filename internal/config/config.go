// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// HashSecret keys the HMAC digests for tokens, OTP codes, phones, and IPs. Required; rotating it invalidates all outstanding invites.
	HashSecret string `mapstructure:"HASH_SECRET"`
	// PublicBaseURL is the externally visible base URL used to build invite links (e.g. https://portal.example.org).
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	// InviteTTLHours is the invite/session lifetime in hours (default 48).
	InviteTTLHours int `mapstructure:"INVITE_TTL_HOURS"`
	// OTPTTLSeconds is the OTP challenge lifetime in seconds (default 300).
	OTPTTLSeconds int `mapstructure:"OTP_TTL_SECONDS"`
	// OTPMaxAttempts is the failed-verification count within the window that locks a session (default 5).
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPWindowMinutes is the rolling lookback window for counting failed attempts (default 10).
	OTPWindowMinutes int `mapstructure:"OTP_WINDOW_MINUTES"`
	// OutboxMaxRetry is the number of failed provider calls before a message is dead-lettered (default 5).
	OutboxMaxRetry int `mapstructure:"OUTBOX_MAX_RETRY"`
	// OutboxBackoffBase is the backoff base per retry (e.g. "1m").
	OutboxBackoffBase string `mapstructure:"OUTBOX_BACKOFF_BASE"`
	// OutboxBackoffCap is the backoff ceiling (e.g. "30m").
	OutboxBackoffCap string `mapstructure:"OUTBOX_BACKOFF_CAP"`
	// OutboxSweepInterval is how often the worker sweeps due messages (e.g. "30s").
	OutboxSweepInterval string `mapstructure:"OUTBOX_SWEEP_INTERVAL"`
	// OutboxSweepLimit is the max messages claimed per sweep (default 50).
	OutboxSweepLimit int `mapstructure:"OUTBOX_SWEEP_LIMIT"`
	// DemoMode when true lets EnsureWritable auto-verify sessions without OTP. Must not be true when Env is production (refused at startup).
	DemoMode bool `mapstructure:"DEMO_MODE"`
	// OTPReturnToClient when true echoes the generated code in the OTP response for local testing. Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// UnknownTokenPolicy decides what ResolveToken does for a token with no session row: "reject" (default) or "provision".
	UnknownTokenPolicy string `mapstructure:"UNKNOWN_TOKEN_POLICY"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// SMSLocalAPIKey is the API key for SMS Local; when empty the no-op provider is used.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// Telemetry (optional). When Kafka brokers are set, services emit telemetry events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL for the telemetry worker (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// OTLPEndpoint is the OTLP gRPC endpoint for traces (empty disables tracing).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
}

// Unknown-token policies; see Config.UnknownTokenPolicy.
const (
	UnknownTokenReject    = "reject"
	UnknownTokenProvision = "provision"
)

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("HASH_SECRET", "")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("INVITE_TTL_HOURS", 48)
	v.SetDefault("OTP_TTL_SECONDS", 300)
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_WINDOW_MINUTES", 10)
	v.SetDefault("OUTBOX_MAX_RETRY", 5)
	v.SetDefault("OUTBOX_BACKOFF_BASE", "1m")
	v.SetDefault("OUTBOX_BACKOFF_CAP", "30m")
	v.SetDefault("OUTBOX_SWEEP_INTERVAL", "30s")
	v.SetDefault("OUTBOX_SWEEP_LIMIT", 50)
	v.SetDefault("DEMO_MODE", false)
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("UNKNOWN_TOKEN_POLICY", UnknownTokenReject)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://www.smslocal.com/dev/bulkV2")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "citizen-access-telemetry")
	v.SetDefault("KAFKA_GROUP_ID", "citizen-access-telemetry-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.HashSecret == "" {
		return nil, errors.New("config: HASH_SECRET must be set")
	}
	if cfg.DemoMode && cfg.Env == "production" {
		return nil, errors.New("config: DEMO_MODE must not be true when APP_ENV=production")
	}
	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	switch cfg.UnknownTokenPolicy {
	case UnknownTokenReject, UnknownTokenProvision:
	default:
		return nil, errors.New("config: UNKNOWN_TOKEN_POLICY must be reject or provision")
	}
	if cfg.InviteTTLHours <= 0 {
		return nil, errors.New("config: INVITE_TTL_HOURS must be positive")
	}
	if cfg.OTPMaxAttempts <= 0 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	if cfg.OutboxMaxRetry <= 0 {
		return nil, errors.New("config: OUTBOX_MAX_RETRY must be positive")
	}

	return &cfg, nil
}

// InviteTTL returns the invite lifetime as a duration.
func (c *Config) InviteTTL() time.Duration {
	return time.Duration(c.InviteTTLHours) * time.Hour
}

// OTPTTL returns the OTP challenge lifetime as a duration. Returns 5m if unset or invalid.
func (c *Config) OTPTTL() time.Duration {
	if c.OTPTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.OTPTTLSeconds) * time.Second
}

// OTPWindow returns the rolling failed-attempt window. Returns 10m if unset or invalid.
func (c *Config) OTPWindow() time.Duration {
	if c.OTPWindowMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.OTPWindowMinutes) * time.Minute
}

// BackoffBase parses OutboxBackoffBase. Returns 1m if unset or invalid.
func (c *Config) BackoffBase() time.Duration {
	d, err := time.ParseDuration(c.OutboxBackoffBase)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// BackoffCap parses OutboxBackoffCap. Returns 30m if unset or invalid.
func (c *Config) BackoffCap() time.Duration {
	d, err := time.ParseDuration(c.OutboxBackoffCap)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// SweepInterval parses OutboxSweepInterval. Returns 30s if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.OutboxSweepInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
