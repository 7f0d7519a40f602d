// Package config loads the orchestrator's runtime configuration from the
// environment. Every required value is validated once at startup, so a
// misconfigured process fails fast instead of discovering a missing
// setting mid-call.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/doorbridge/doorbridge/internal/errs"
)

// Config holds all runtime configuration for the call orchestrator.
type Config struct {
	ServerDomain string
	ServerIP     string

	AriHost     string
	AriPort     int
	AriUser     string
	AriPassword string
	AriAppName  string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	CallTokenTTLSec int
	RingTimeoutSec  int
	AppPort         int

	Realphone       string
	PushAccessToken string

	FirebaseCredentialsFile string

	ApnsKeyFile  string
	ApnsKeyID    string
	ApnsTeamID   string
	ApnsBundleID string
	ApnsSandbox  bool

	LogLevel  string
	LogFormat string
}

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// envSpec maps an env var name to the Config field setter it feeds, used
// by Load to fail fast with a clear field name on any missing value.
type envSpec struct {
	name     string
	required bool
	assign   func(cfg *Config, val string) error
}

func intAssign(f func(*Config, int)) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("not an integer: %q", val)
		}
		f(cfg, n)
		return nil
	}
}

func strAssign(f func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		f(cfg, val)
		return nil
	}
}

func specs() []envSpec {
	return []envSpec{
		{"serverDomain", true, strAssign(func(c *Config, v string) { c.ServerDomain = v })},
		{"serverIp", true, strAssign(func(c *Config, v string) { c.ServerIP = v })},

		{"ariHost", true, strAssign(func(c *Config, v string) { c.AriHost = v })},
		{"ariPort", true, intAssign(func(c *Config, v int) { c.AriPort = v })},
		{"ariUser", true, strAssign(func(c *Config, v string) { c.AriUser = v })},
		{"ariPassword", true, strAssign(func(c *Config, v string) { c.AriPassword = v })},
		{"ariAppName", true, strAssign(func(c *Config, v string) { c.AriAppName = v })},

		{"redisHost", true, strAssign(func(c *Config, v string) { c.RedisHost = v })},
		{"redisPort", true, intAssign(func(c *Config, v int) { c.RedisPort = v })},
		{"redisPassword", true, strAssign(func(c *Config, v string) { c.RedisPassword = v })},

		{"postgresHost", true, strAssign(func(c *Config, v string) { c.PostgresHost = v })},
		{"postgresPort", true, intAssign(func(c *Config, v int) { c.PostgresPort = v })},
		{"postgresDb", true, strAssign(func(c *Config, v string) { c.PostgresDB = v })},
		{"postgresUser", true, strAssign(func(c *Config, v string) { c.PostgresUser = v })},
		{"postgresPassword", true, strAssign(func(c *Config, v string) { c.PostgresPassword = v })},

		{"callTokenTtlSec", true, intAssign(func(c *Config, v int) { c.CallTokenTTLSec = v })},
		{"ringTimeoutSec", true, intAssign(func(c *Config, v int) { c.RingTimeoutSec = v })},
		{"appPort", true, intAssign(func(c *Config, v int) { c.AppPort = v })},

		{"realphone", true, strAssign(func(c *Config, v string) { c.Realphone = v })},
		{"pushAccessToken", false, strAssign(func(c *Config, v string) { c.PushAccessToken = v })},

		{"firebaseCredentialsFile", false, strAssign(func(c *Config, v string) { c.FirebaseCredentialsFile = v })},

		{"apnsKeyFile", false, strAssign(func(c *Config, v string) { c.ApnsKeyFile = v })},
		{"apnsKeyId", false, strAssign(func(c *Config, v string) { c.ApnsKeyID = v })},
		{"apnsTeamId", false, strAssign(func(c *Config, v string) { c.ApnsTeamID = v })},
		{"apnsBundleId", false, strAssign(func(c *Config, v string) { c.ApnsBundleID = v })},
		{"apnsSandbox", false, func(cfg *Config, v string) error {
			cfg.ApnsSandbox = v == "true" || v == "1"
			return nil
		}},

		{"logLevel", false, strAssign(func(c *Config, v string) { c.LogLevel = v })},
		{"logFormat", false, strAssign(func(c *Config, v string) { c.LogFormat = v })},
	}
}

// Load reads and validates configuration from the environment. Every
// required value named in the env spec must be present and well-formed,
// or Load returns a *errs.ConfigError describing the first problem found.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}

	for _, s := range specs() {
		val, ok := os.LookupEnv(s.name)
		if !ok || val == "" {
			if s.required {
				return nil, &errs.ConfigError{Field: s.name, Msg: "required but not set"}
			}
			continue
		}
		if err := s.assign(cfg, val); err != nil {
			return nil, &errs.ConfigError{Field: s.name, Msg: err.Error()}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks cross-field invariants that individual field parsing
// cannot catch.
func (c *Config) validate() error {
	if c.CallTokenTTLSec < c.RingTimeoutSec {
		return &errs.ConfigError{
			Field: "callTokenTtlSec",
			Msg:   fmt.Sprintf("must be >= ringTimeoutSec (%d < %d)", c.CallTokenTTLSec, c.RingTimeoutSec),
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return &errs.ConfigError{Field: "logLevel", Msg: "must be one of debug, info, warn, error"}
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return &errs.ConfigError{Field: "logFormat", Msg: "must be one of text, json"}
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// AriBaseURL returns the telephony engine's HTTP origin. REST paths
// (under /ari) are appended by the engine client.
func (c *Config) AriBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.AriHost, c.AriPort)
}

// AriWebSocketURL returns the event-stream URL for the telephony engine,
// subscribing the configured application name.
func (c *Config) AriWebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ari/events?app=%s", c.AriHost, c.AriPort, c.AriAppName)
}

// RedisAddr returns the host:port address for the KV store.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresDSN returns a libpq-style connection string for the realtime
// config store.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresUser, c.PostgresPassword)
}

// SlogHandler returns a slog.Handler configured with the configured format
// and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
