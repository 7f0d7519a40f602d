package config

import (
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	for _, name := range []string{
		"serverDomain", "serverIp", "ariHost", "ariPort", "ariUser", "ariPassword",
		"ariAppName", "redisHost", "redisPort", "redisPassword", "postgresHost",
		"postgresPort", "postgresDb", "postgresUser", "postgresPassword",
		"callTokenTtlSec", "ringTimeoutSec", "appPort", "realphone",
		"pushAccessToken", "logLevel", "logFormat",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func setValidEnv(t *testing.T) {
	clearEnv(t)
	env := map[string]string{
		"serverDomain":    "doorbridge.example.com",
		"serverIp":        "203.0.113.9",
		"ariHost":         "127.0.0.1",
		"ariPort":         "8088",
		"ariUser":         "orchestrator",
		"ariPassword":     "secret",
		"ariAppName":      "doorbridge",
		"redisHost":       "127.0.0.1",
		"redisPort":       "6379",
		"redisPassword":   "secret",
		"postgresHost":    "127.0.0.1",
		"postgresPort":    "5432",
		"postgresDb":      "doorbridge",
		"postgresUser":    "doorbridge",
		"postgresPassword": "secret",
		"callTokenTtlSec": "60",
		"ringTimeoutSec":  "30",
		"appPort":         "8080",
		"realphone":       "1001",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoadRequiresAllFields(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error when required fields are missing")
	}
}

func TestLoadValid(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AriAppName != "doorbridge" {
		t.Errorf("AriAppName = %q, want doorbridge", cfg.AriAppName)
	}
	if cfg.CallTokenTTLSec != 60 {
		t.Errorf("CallTokenTTLSec = %d, want 60", cfg.CallTokenTTLSec)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestLoadRejectsTTLBelowRingTimeout(t *testing.T) {
	setValidEnv(t)
	t.Setenv("callTokenTtlSec", "10")
	t.Setenv("ringTimeoutSec", "30")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when callTokenTtlSec < ringTimeoutSec")
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	setValidEnv(t)
	t.Setenv("logLevel", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoadRejectsNonIntegerPort(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ariPort", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-integer ariPort")
	}
}

func TestAriBaseURL(t *testing.T) {
	cfg := &Config{AriHost: "192.0.2.1", AriPort: 8088}
	want := "http://192.0.2.1:8088"
	if got := cfg.AriBaseURL(); got != want {
		t.Errorf("AriBaseURL() = %q, want %q", got, want)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
