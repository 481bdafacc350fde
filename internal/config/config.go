// Package config loads Campfire's runtime configuration from environment variables prefixed
// CAMPFIRE_, with --host/--port/--database-url/--log-level flags from cmd/campfire taking precedence
// over their environment equivalents (§6).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration for the Campfire server.
type Config struct {
	// Core
	Host     string
	Port     int
	LogLevel string // "debug", "info", "warn", "error"
	Env      string // "development" or "production"

	// Database
	DatabasePath    string
	DatabaseMaxOpen int // max open connections on the read pool; the write pool is always 1 (§5)

	// Valkey (backs CSRF one-shot tokens)
	ValkeyURL         string
	ValkeyDialTimeout time.Duration

	// bcrypt
	BcryptCost int

	// Sessions
	SessionTTL time.Duration

	// Rate limiting (§4.E)
	MessageRatePerSecond float64
	MessageBurst         int
	GeneralRatePerSecond float64
	GeneralBurst         int
	AuthRatePerSecond    float64
	AuthBurst            int
	BotErrorThreshold    int
	BotErrorWindow       time.Duration
	BotBlockDuration     time.Duration

	// Bot dispatcher (§4.H)
	BotGlobalConcurrency      int64
	BotPerBotConcurrency      int64
	BotQueueDepth             int
	BotDeliveryTimeout        time.Duration
	BotMaxRetries             uint64
	BotPermanentFailThreshold int

	// Push dispatcher (§4.I)
	PushMaxConcurrency        int64
	PushDeliveryTimeout       time.Duration
	PushStaleFailureThreshold int

	// HTTP
	BodyLimitBytes   int
	CORSAllowOrigins string
	ForceHTTPS       bool // when true, responses carry Strict-Transport-Security (§6)

	// Graceful shutdown (§5)
	ShutdownDrainTimeout time.Duration
}

// Load reads configuration from CAMPFIRE_-prefixed environment variables, applying the defaults named
// throughout the spec. It returns an error if any variable is set but cannot be parsed, or validation
// fails.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Host:     envStr("CAMPFIRE_HOST", "0.0.0.0"),
		Port:     p.int("CAMPFIRE_PORT", 8080),
		LogLevel: envStr("CAMPFIRE_LOG_LEVEL", "info"),
		Env:      envStr("CAMPFIRE_ENV", "production"),

		DatabasePath:    envStr("CAMPFIRE_DATABASE_URL", "campfire.db"),
		DatabaseMaxOpen: p.int("CAMPFIRE_DATABASE_MAX_OPEN", 8),

		ValkeyURL:         envStr("CAMPFIRE_VALKEY_URL", "redis://localhost:6379/0"),
		ValkeyDialTimeout: p.duration("CAMPFIRE_VALKEY_DIAL_TIMEOUT", 5*time.Second),

		BcryptCost: p.int("CAMPFIRE_BCRYPT_COST", 12),

		SessionTTL: p.duration("CAMPFIRE_SESSION_TTL", 30*24*time.Hour),

		MessageRatePerSecond: p.float("CAMPFIRE_RATE_MESSAGE_PER_SECOND", 1),
		MessageBurst:         p.int("CAMPFIRE_RATE_MESSAGE_BURST", 5),
		GeneralRatePerSecond: p.float("CAMPFIRE_RATE_GENERAL_PER_SECOND", 1),
		GeneralBurst:         p.int("CAMPFIRE_RATE_GENERAL_BURST", 10),
		AuthRatePerSecond:    p.float("CAMPFIRE_RATE_AUTH_PER_SECOND", 1.0/6),
		AuthBurst:            p.int("CAMPFIRE_RATE_AUTH_BURST", 5),
		BotErrorThreshold:    p.int("CAMPFIRE_BOT_ERROR_THRESHOLD", 10),
		BotErrorWindow:       p.duration("CAMPFIRE_BOT_ERROR_WINDOW", 5*time.Minute),
		BotBlockDuration:     p.duration("CAMPFIRE_BOT_BLOCK_DURATION", 30*time.Minute),

		BotGlobalConcurrency:      p.int64("CAMPFIRE_BOT_GLOBAL_CONCURRENCY", 32),
		BotPerBotConcurrency:      p.int64("CAMPFIRE_BOT_PER_BOT_CONCURRENCY", 4),
		BotQueueDepth:             p.int("CAMPFIRE_BOT_QUEUE_DEPTH", 100),
		BotDeliveryTimeout:        p.duration("CAMPFIRE_BOT_DELIVERY_TIMEOUT", 10*time.Second),
		BotMaxRetries:             p.uint64("CAMPFIRE_BOT_MAX_RETRIES", 3),
		BotPermanentFailThreshold: p.int("CAMPFIRE_BOT_PERMANENT_FAIL_THRESHOLD", 10),

		PushMaxConcurrency:        p.int64("CAMPFIRE_PUSH_MAX_CONCURRENCY", 64),
		PushDeliveryTimeout:       p.duration("CAMPFIRE_PUSH_DELIVERY_TIMEOUT", 5*time.Second),
		PushStaleFailureThreshold: p.int("CAMPFIRE_PUSH_STALE_FAILURE_THRESHOLD", 5),

		BodyLimitBytes:   p.int("CAMPFIRE_BODY_LIMIT_BYTES", 1<<20),
		CORSAllowOrigins: envStr("CAMPFIRE_CORS_ALLOW_ORIGINS", "*"),
		ForceHTTPS:       p.boolean("CAMPFIRE_FORCE_HTTPS", false),

		ShutdownDrainTimeout: p.duration("CAMPFIRE_SHUTDOWN_DRAIN_TIMEOUT", 30*time.Second),
	}

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("CAMPFIRE_PORT must be between 1 and 65535"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("CAMPFIRE_DATABASE_URL must not be empty"))
	}
	if c.DatabaseMaxOpen < 1 {
		errs = append(errs, fmt.Errorf("CAMPFIRE_DATABASE_MAX_OPEN must be at least 1"))
	}
	if c.BcryptCost < 10 {
		errs = append(errs, fmt.Errorf("CAMPFIRE_BCRYPT_COST must be at least 10"))
	}
	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Errorf("CAMPFIRE_SESSION_TTL must be at least 1m"))
	}
	if c.BotGlobalConcurrency < 1 {
		errs = append(errs, fmt.Errorf("CAMPFIRE_BOT_GLOBAL_CONCURRENCY must be at least 1"))
	}
	if c.BotPerBotConcurrency < 1 {
		errs = append(errs, fmt.Errorf("CAMPFIRE_BOT_PER_BOT_CONCURRENCY must be at least 1"))
	}
	if c.PushMaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("CAMPFIRE_PUSH_MAX_CONCURRENCY must be at least 1"))
	}
	if c.BodyLimitBytes < 1024 {
		errs = append(errs, fmt.Errorf("CAMPFIRE_BODY_LIMIT_BYTES must be at least 1024"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("CAMPFIRE_LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) int64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) uint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected unsigned integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected number)", key, v))
		return fallback
	}
	return f
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected bool)", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"24h\" or \"30m\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
