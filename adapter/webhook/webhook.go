// Package webhook publishes turn completion events with HTTP POST.
//
// Retries with exponential backoff on transient failures.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/parley/adapter"
	"github.com/pithecene-io/parley/iox"
)

// Defaults.
const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
	DefaultBackoff = 500 * time.Millisecond
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts after the first (default 0).
	Retries int
	// Backoff is the wait before the first retry, doubling after (default 500ms).
	Backoff time.Duration
	// Encoding selects JSON (default) or msgpack bodies.
	Encoding adapter.Encoding
}

// Adapter publishes turn completion events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	enc, err := adapter.ParseEncoding(string(cfg.Encoding))
	if err != nil {
		return nil, err
	}
	cfg.Encoding = enc
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish POSTs the encoded event. 5xx responses and network errors are
// retried; 4xx responses fail immediately.
func (a *Adapter) Publish(ctx context.Context, event *adapter.TurnCompletedEvent) error {
	body, err := adapter.Encode(event, a.config.Encoding)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("webhook: context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: context canceled during backoff: %w", ctx.Err())
			case <-time.After(adapter.Backoff(a.config.Backoff, i)):
			}
		}

		lastErr = a.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retriable() {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("webhook: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable reports whether the status may succeed on retry.
func (e *StatusError) Retriable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func (a *Adapter) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", a.config.Encoding.ContentType())
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
