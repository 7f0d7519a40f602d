// Package kv provides the TTL-aware key-value substrate used for all
// per-call coordination records (§4.2). It exposes a narrow interface so
// callers depend on SET/GET/DEL semantics, not a driver.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doorbridge/doorbridge/internal/errs"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the narrow interface the orchestrator and Janitor depend on.
// Every value is JSON-encoded so the schema can evolve without a wire
// format migration.
type Store interface {
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	Get(ctx context.Context, key string, dst any) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Config controls the Redis client's connection behavior.
type Config struct {
	Addr     string
	Password string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// RedisStore implements Store on top of github.com/redis/go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// Open creates a Redis client and validates connectivity via PING.
func Open(ctx context.Context, cfg Config) (*RedisStore, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, &errs.StoreError{Op: "kv.Open", Err: errors.New("redis addr is required")}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &errs.StoreError{Op: "kv.Open", Err: fmt.Errorf("ping: %w", err)}
	}

	return &RedisStore{client: client}, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Set JSON-encodes val and stores it under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return &errs.StoreError{Op: "kv.Set", Err: fmt.Errorf("encoding %s: %w", key, err)}
	}
	if err := s.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return &errs.StoreError{Op: "kv.Set", Err: err}
	}
	return nil
}

// Get fetches the value stored at key and JSON-decodes it into dst.
// Returns ErrNotFound if the key does not exist or has expired.
func (s *RedisStore) Get(ctx context.Context, key string, dst any) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return &errs.StoreError{Op: "kv.Get", Err: err}
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return &errs.StoreError{Op: "kv.Get", Err: fmt.Errorf("decoding %s: %w", key, err)}
	}
	return nil
}

// Del removes key. Safe to call on a missing key.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return &errs.StoreError{Op: "kv.Del", Err: err}
	}
	return nil
}

// Exists reports whether key is currently live.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, &errs.StoreError{Op: "kv.Exists", Err: err}
	}
	return n > 0, nil
}
