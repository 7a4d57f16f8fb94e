// Package backend persists and indexes jobs in Redis.
//
// Every fact about a job lives under its own key (<prefix>:<id>:<name>), and
// secondary indices are plain sets (<prefix>:<name>:index:<value>) holding
// job keys.
//
// Atomicity depends on the deployment mode:
//
//   - Normal mode: Initialize, AddOneProgress and Delete run inside a single
//     MULTI/EXEC pipeline, and state index migration uses SMOVE, so a job is
//     always in exactly one state index.
//   - Restricted proxy mode (twemproxy and similar): pipelines and multi-key
//     commands such as SUNION are not used. Every command is sent on its own
//     and a crash between two commands can leave partial writes. Index
//     migration is SREM followed by SADD, so a job briefly appears in no state
//     index.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces every key written by the backend
	DefaultKeyPrefix = "jobprogress"

	// DefaultHeartbeatExpiration is how long a heartbeat stays alive without refresh
	DefaultHeartbeatExpiration = time.Hour
)

// Config holds backend settings
type Config struct {
	KeyPrefix           string
	HeartbeatExpiration time.Duration
	RestrictedProxy     bool // proxy forbids MULTI/EXEC, SUNION and SMOVE
}

// DefaultConfig returns the settings used when nothing else is configured
func DefaultConfig() Config {
	return Config{
		KeyPrefix:           DefaultKeyPrefix,
		HeartbeatExpiration: DefaultHeartbeatExpiration,
		RestrictedProxy:     true,
	}
}

// Validate checks the configuration before it is used
func (c Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("%w: key prefix is required", ErrInvalidConfig)
	}
	if c.HeartbeatExpiration <= 0 {
		return fmt.Errorf("%w: heartbeat expiration must be greater than 0", ErrInvalidConfig)
	}
	return nil
}

// Option configures the Redis backend
type Option func(*Redis)

// WithLogger sets the logger used for write tracing
func WithLogger(l *slog.Logger) Option {
	return func(r *Redis) { r.logger = l }
}

// Redis is the backend implementation over a Redis-compatible store
type Redis struct {
	client redis.Cmdable
	cfg    Config
	logger *slog.Logger
}

// New creates a Redis backend. The caller owns the client lifecycle.
func New(client redis.Cmdable, cfg Config, opts ...Option) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Redis{
		client: client,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Config returns the settings the backend was built with
func (r *Redis) Config() Config {
	return r.cfg
}

// Ping verifies the store is reachable
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// op queues or sends a single command against c
type op func(ctx context.Context, c redis.Cmdable) redis.Cmder

// batch sends ops as one MULTI/EXEC pipeline, or one by one in restricted
// proxy mode. A missing key (redis.Nil) is not an error.
func (r *Redis) batch(ctx context.Context, ops ...op) error {
	if r.cfg.RestrictedProxy {
		for _, o := range ops {
			if err := o(ctx, r.client).Err(); err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
		}
		return nil
	}

	cmds, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, o := range ops {
			o(ctx, p)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	for _, cmd := range cmds {
		if cmdErr := cmd.Err(); cmdErr != nil && !errors.Is(cmdErr, redis.Nil) {
			return cmdErr
		}
	}
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (r *Redis) trace(op, id string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+3)
	args = append(args,
		slog.String("op", op),
		slog.String("job_id", id),
		slog.Bool("restricted_proxy", r.cfg.RestrictedProxy),
	)
	for _, a := range attrs {
		args = append(args, a)
	}
	r.logger.Debug("Updating Redis", args...)
}
