// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish streams engine readings and events to a Redis pub/sub
// channel as msgpack frames.
//
// Retries with exponential backoff on connection errors.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Thermoquad/cuxstat/pkg/engine"
)

// DefaultChannel is the default pub/sub channel name
const DefaultChannel = "cuxstat:telemetry"

// DefaultTimeout is the default per-publish timeout
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts
const DefaultRetries = 3

// Config configures the Redis publisher
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: cuxstat:telemetry)
	Channel string
	// Timeout is the per-publish timeout (default 5s)
	Timeout time.Duration
	// Retries is the number of retry attempts on failure
	Retries int
}

// Publisher sends frames via Redis PUBLISH
type Publisher struct {
	config Config
	client *goredis.Client
	seq    atomic.Uint64
}

// New creates a publisher. Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Publisher{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Channel returns the channel frames are published to
func (p *Publisher) Channel() string { return p.config.Channel }

// PublishSnapshot publishes the valid readings of snap
func (p *Publisher) PublishSnapshot(ctx context.Context, snap *engine.Snapshot) error {
	return p.send(ctx, SnapshotFrame(snap))
}

// PublishEvent publishes one engine event
func (p *Publisher) PublishEvent(ctx context.Context, ev engine.Event, at time.Time) error {
	return p.send(ctx, EventFrame(ev, at))
}

func (p *Publisher) send(ctx context.Context, f *Frame) error {
	f.Seq = p.seq.Add(1)
	body, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("redis: marshal frame: %w", err)
	}
	return p.publish(ctx, body)
}

// publish sends body to the channel, retrying with exponential backoff
func (p *Publisher) publish(ctx context.Context, body []byte) error {
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + p.config.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(publishCtx, p.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases publisher resources
func (p *Publisher) Close() error {
	return p.client.Close()
}
