// Package redis publishes turn completion events with Redis PUBLISH.
//
// Retries with exponential backoff on connection errors.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/parley/adapter"
)

// Defaults.
const (
	DefaultChannel = "parley:turn_completed"
	DefaultTimeout = 5 * time.Second
	DefaultBackoff = 500 * time.Millisecond
)

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel (default parley:turn_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts after the first.
	Retries int
	// Backoff is the wait before the first retry, doubling after (default 500ms).
	Backoff time.Duration
	// Encoding selects JSON (default) or msgpack payloads.
	Encoding adapter.Encoding
}

// Adapter publishes turn completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter. The connection is lazy.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	enc, err := adapter.ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, err
	}
	cfg.Encoding = enc
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the encoded event to the configured channel.
func (a *Adapter) Publish(ctx context.Context, event *adapter.TurnCompletedEvent) error {
	body, err := adapter.Encode(event, a.config.Encoding)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(adapter.Backoff(a.config.Backoff, i)):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.client.Publish(publishCtx, a.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, goredis.ErrClosed) {
			return fmt.Errorf("redis: %w", lastErr)
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close closes the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
