// Package db manages the optional Redis connection used for rate limiting
// and health reporting. Room state itself is kept in memory.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

type DB struct {
	Redis *redis.Client
}

var logger = log.Default().WithPrefix("DB")

// Options builds client options from a Redis URL. Both "host:port" and
// "redis://" / "rediss://" URL formats are accepted.
func Options(redisURL, password string) (*redis.Options, error) {
	opts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DB:           0,
	}

	if !strings.HasPrefix(redisURL, "redis://") && !strings.HasPrefix(redisURL, "rediss://") {
		opts.Addr = redisURL
		opts.Password = password
		return opts, nil
	}

	parsed, err := url.Parse(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.Addr = parsed.Host
	if parsed.User != nil {
		opts.Username = parsed.User.Username()
		if pw, ok := parsed.User.Password(); ok {
			opts.Password = pw
		}
	}
	if opts.Password == "" {
		opts.Password = password
	}
	if parsed.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return opts, nil
}

// NewDB connects to Redis. An empty URL, a bad URL or an unreachable server
// yields a DB without Redis; the server keeps running on in-process state.
func NewDB(ctx context.Context, redisURL, password string) *DB {
	if redisURL == "" {
		logger.Info("REDIS_URL not set, running without Redis")
		return &DB{}
	}

	opts, err := Options(redisURL, password)
	if err != nil {
		logger.Warn("Invalid Redis URL, continuing without Redis", "err", err)
		return &DB{}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Failed to connect to Redis, continuing without Redis", "err", err)
		rdb.Close()
		return &DB{}
	}

	logger.Info("Redis connection established", "addr", opts.Addr)
	return &DB{Redis: rdb}
}

// Close closes the Redis connection if there is one
func (db *DB) Close() error {
	if db == nil || db.Redis == nil {
		return nil
	}
	if err := db.Redis.Close(); err != nil {
		return fmt.Errorf("redis close error: %w", err)
	}
	return nil
}

// Health pings Redis when configured. A failure is logged and returned but
// callers treat it as advisory.
func (db *DB) Health(ctx context.Context) error {
	if db == nil || db.Redis == nil {
		return nil
	}
	if err := db.Redis.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis health check failed", "err", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
