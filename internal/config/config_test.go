package config

import (
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"CAMPFIRE_HOST", "CAMPFIRE_PORT", "CAMPFIRE_LOG_LEVEL", "CAMPFIRE_ENV",
		"CAMPFIRE_DATABASE_URL", "CAMPFIRE_DATABASE_MAX_OPEN",
		"CAMPFIRE_VALKEY_URL", "CAMPFIRE_VALKEY_DIAL_TIMEOUT",
		"CAMPFIRE_BCRYPT_COST", "CAMPFIRE_SESSION_TTL",
		"CAMPFIRE_RATE_MESSAGE_PER_SECOND", "CAMPFIRE_RATE_MESSAGE_BURST",
		"CAMPFIRE_BOT_GLOBAL_CONCURRENCY", "CAMPFIRE_BOT_PER_BOT_CONCURRENCY",
		"CAMPFIRE_PUSH_MAX_CONCURRENCY", "CAMPFIRE_BODY_LIMIT_BYTES",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %q, want %q", cfg.Env, "production")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.DatabasePath != "campfire.db" {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, "campfire.db")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.SessionTTL != 30*24*time.Hour {
		t.Errorf("SessionTTL = %v, want 720h", cfg.SessionTTL)
	}
	if cfg.MessageBurst != 5 {
		t.Errorf("MessageBurst = %d, want 5", cfg.MessageBurst)
	}
	if cfg.BotGlobalConcurrency != 32 {
		t.Errorf("BotGlobalConcurrency = %d, want 32", cfg.BotGlobalConcurrency)
	}
	if cfg.BotPerBotConcurrency != 4 {
		t.Errorf("BotPerBotConcurrency = %d, want 4", cfg.BotPerBotConcurrency)
	}
	if cfg.PushMaxConcurrency != 64 {
		t.Errorf("PushMaxConcurrency = %d, want 64", cfg.PushMaxConcurrency)
	}
	if cfg.CORSAllowOrigins != "*" {
		t.Errorf("CORSAllowOrigins = %q, want %q", cfg.CORSAllowOrigins, "*")
	}
	if cfg.ForceHTTPS {
		t.Error("ForceHTTPS = true, want false")
	}
}

func TestLoadForceHTTPS(t *testing.T) {
	t.Setenv("CAMPFIRE_FORCE_HTTPS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if !cfg.ForceHTTPS {
		t.Error("ForceHTTPS = false, want true")
	}
}

func TestLoadInvalidBool(t *testing.T) {
	t.Setenv("CAMPFIRE_FORCE_HTTPS", "not-a-bool")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "CAMPFIRE_FORCE_HTTPS") {
		t.Errorf("error %q does not mention CAMPFIRE_FORCE_HTTPS", err.Error())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CAMPFIRE_HOST", "127.0.0.1")
	t.Setenv("CAMPFIRE_PORT", "9090")
	t.Setenv("CAMPFIRE_ENV", "development")
	t.Setenv("CAMPFIRE_DATABASE_URL", "/tmp/test.db")
	t.Setenv("CAMPFIRE_BCRYPT_COST", "10")
	t.Setenv("CAMPFIRE_SESSION_TTL", "1h")
	t.Setenv("CAMPFIRE_BOT_GLOBAL_CONCURRENCY", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Host, "127.0.0.1")
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if cfg.DatabasePath != "/tmp/test.db" {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, "/tmp/test.db")
	}
	if cfg.BcryptCost != 10 {
		t.Errorf("BcryptCost = %d, want 10", cfg.BcryptCost)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.BotGlobalConcurrency != 16 {
		t.Errorf("BotGlobalConcurrency = %d, want 16", cfg.BotGlobalConcurrency)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("CAMPFIRE_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "CAMPFIRE_PORT") {
		t.Errorf("error %q does not mention CAMPFIRE_PORT", err.Error())
	}
	if !strings.Contains(err.Error(), "not-a-number") {
		t.Errorf("error %q does not include the invalid value", err.Error())
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("CAMPFIRE_SESSION_TTL", "not-a-duration")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "CAMPFIRE_SESSION_TTL") {
		t.Errorf("error %q does not mention CAMPFIRE_SESSION_TTL", err.Error())
	}
}

func TestLoadMultipleErrors(t *testing.T) {
	t.Setenv("CAMPFIRE_PORT", "abc")
	t.Setenv("CAMPFIRE_BOT_GLOBAL_CONCURRENCY", "xyz")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want multiple parse errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "CAMPFIRE_PORT") {
		t.Errorf("error missing CAMPFIRE_PORT, got: %s", errStr)
	}
	if !strings.Contains(errStr, "CAMPFIRE_BOT_GLOBAL_CONCURRENCY") {
		t.Errorf("error missing CAMPFIRE_BOT_GLOBAL_CONCURRENCY, got: %s", errStr)
	}
}

func TestLoadValidationRejectsOutOfRangePort(t *testing.T) {
	t.Setenv("CAMPFIRE_PORT", "70000")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for out-of-range port")
	}
	if !strings.Contains(err.Error(), "CAMPFIRE_PORT") {
		t.Errorf("error %q does not mention CAMPFIRE_PORT", err.Error())
	}
}

func TestLoadValidationRejectsLowBcryptCost(t *testing.T) {
	t.Setenv("CAMPFIRE_BCRYPT_COST", "4")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for low bcrypt cost")
	}
	if !strings.Contains(err.Error(), "CAMPFIRE_BCRYPT_COST") {
		t.Errorf("error %q does not mention CAMPFIRE_BCRYPT_COST", err.Error())
	}
}

func TestLoadValidationRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("CAMPFIRE_LOG_LEVEL", "verbose")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for unknown log level")
	}
	if !strings.Contains(err.Error(), "CAMPFIRE_LOG_LEVEL") {
		t.Errorf("error %q does not mention CAMPFIRE_LOG_LEVEL", err.Error())
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"production", false},
		{"", false},
		{"staging", false},
	}
	for _, tt := range tests {
		cfg := &Config{Env: tt.env}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() with env=%q = %v, want %v", tt.env, got, tt.want)
		}
	}
}
