// Package backend is the HTTP client for the chat backend.
//
// JSON endpoints answer with an envelope:
//
//	{"status": 200, "error": "", "data": {...}}
//
// The client unwraps data and turns error into StatusError.Message. The
// send-message endpoint answers with an event stream that is handed back
// unread; see package sse.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/parley/iox"
	"github.com/pithecene-io/parley/log"
	"github.com/pithecene-io/parley/types"
)

// Defaults.
const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second
	// DefaultRetries is the number of retries for idempotent reads.
	DefaultRetries = 2
	// DefaultBackoff is the delay before the first retry; it doubles after.
	DefaultBackoff = 500 * time.Millisecond
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 16 * 1024

// Paths are the endpoint paths relative to BaseURL. GetSession must contain
// the {id} placeholder.
type Paths struct {
	CreateSession string
	GetSession    string
	SendMessage   string
	Personas      string
	Feedback      string
}

// DefaultPaths returns the backend's standard routes.
func DefaultPaths() Paths {
	return Paths{
		CreateSession: "/chats/create-chat-session",
		GetSession:    "/chats/get-chat-session/{id}",
		SendMessage:   "/chats/send-message",
		Personas:      "/api/manage/personas",
		Feedback:      "/chats/message-feedback",
	}
}

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root (required), e.g. https://chat.example.com.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout bounds non-streaming requests (default 30s).
	// The event stream has no overall deadline.
	Timeout time.Duration
	// Retries for GET requests (default 2). Negative disables retries.
	Retries int
	// Backoff before the first retry (default 500ms).
	Backoff time.Duration
	// Paths overrides endpoint paths; empty fields keep the default.
	Paths Paths
	// HTTPClient overrides the transport. It must not set a client-wide
	// Timeout, which would cut streams short.
	HTTPClient *http.Client
	// Logger is optional.
	Logger *log.Logger
}

// Client talks to the chat backend. Safe for concurrent use.
type Client struct {
	base    *url.URL
	token   string
	headers map[string]string
	timeout time.Duration
	retries int
	backoff time.Duration
	paths   Paths
	http    *http.Client
	logger  *log.Logger
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend client requires a base URL")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch {
	case cfg.Retries == 0:
		cfg.Retries = DefaultRetries
	case cfg.Retries < 0:
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		base:    base,
		token:   cfg.Token,
		headers: cfg.Headers,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		paths:   mergePaths(cfg.Paths),
		http:    httpClient,
		logger:  cfg.Logger,
	}, nil
}

func mergePaths(p Paths) Paths {
	d := DefaultPaths()
	if p.CreateSession != "" {
		d.CreateSession = p.CreateSession
	}
	if p.GetSession != "" {
		d.GetSession = p.GetSession
	}
	if p.SendMessage != "" {
		d.SendMessage = p.SendMessage
	}
	if p.Personas != "" {
		d.Personas = p.Personas
	}
	if p.Feedback != "" {
		d.Feedback = p.Feedback
	}
	return d
}

// CreateSessionRequest is the create-session payload.
type CreateSessionRequest struct {
	Description string
	OneShot     bool
	PersonaID   types.ID
}

// SendMessageRequest is the send-message payload.
type SendMessageRequest struct {
	Message   string
	SessionID types.ID
}

// FeedbackRequest is the message-feedback payload.
type FeedbackRequest struct {
	MessageID types.ID
	Vote      types.Vote
}

// MarshalJSON sends persona_id as a number when it is numeric.
func (r CreateSessionRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Description string `json:"description"`
		OneShot     bool   `json:"one_shot"`
		PersonaID   any    `json:"persona_id"`
	}{r.Description, r.OneShot, wireID(r.PersonaID)})
}

// MarshalJSON sends chat_session_id as a number when it is numeric.
func (r SendMessageRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Message   string `json:"message"`
		SessionID any    `json:"chat_session_id"`
	}{r.Message, wireID(r.SessionID)})
}

// MarshalJSON sends id as a number when it is numeric.
func (r FeedbackRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID   any        `json:"id"`
		Vote types.Vote `json:"vote"`
	}{wireID(r.MessageID), r.Vote})
}

// wireID renders backend-issued numeric ids as JSON numbers, which the
// backend binds into int64 fields. Other ids stay strings.
func wireID(id types.ID) any {
	s := id.String()
	if s == "" {
		return nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return json.Number(s)
}

// CreateSession starts a new conversation.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*types.Session, error) {
	var session types.Session
	if err := c.doJSON(ctx, "create session", http.MethodPost, c.paths.CreateSession, req, &session); err != nil {
		return nil, err
	}
	if session.ID.IsZero() {
		return nil, errors.New("create session: response has no session id")
	}
	if session.PersonaID.IsZero() {
		session.PersonaID = req.PersonaID
	}
	return &session, nil
}

// GetSession fetches a conversation with its message history.
func (c *Client) GetSession(ctx context.Context, id types.ID) (*types.Session, error) {
	path := strings.ReplaceAll(c.paths.GetSession, "{id}", id.String())
	var session types.Session
	if err := c.getWithRetry(ctx, "get session", path, &session); err != nil {
		return nil, err
	}
	if session.ID.IsZero() {
		session.ID = id
	}
	return &session, nil
}

// ListPersonas returns the personas available to the caller.
func (c *Client) ListPersonas(ctx context.Context) ([]types.Persona, error) {
	var personas []types.Persona
	if err := c.getWithRetry(ctx, "list personas", c.paths.Personas, &personas); err != nil {
		return nil, err
	}
	return personas, nil
}

// SendFeedback records a vote on a message.
func (c *Client) SendFeedback(ctx context.Context, req FeedbackRequest) error {
	return c.doJSON(ctx, "send feedback", http.MethodPost, c.paths.Feedback, req, nil)
}

// SendMessage posts a user message and returns the event stream body.
// The caller must close it. The wait for response headers is bounded by the
// configured timeout; once streaming starts there is no overall deadline and
// the stream runs until it ends, ctx is cancelled or the body is closed.
// A non-2xx answer is returned as a StatusError before any of the stream is read.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("send message: marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.paths.SendMessage, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("send message: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	timer := time.AfterFunc(c.timeout, cancel)
	resp, err := c.http.Do(httpReq)
	if !timer.Stop() {
		if err == nil {
			iox.DiscardClose(resp.Body)
			err = context.DeadlineExceeded
		}
		err = fmt.Errorf("%w after %s: %w", ErrHeaderTimeout, c.timeout, err)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("send message: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer iox.DrainClose(resp.Body)
		return nil, statusError("send message", resp)
	}

	if c.logger != nil {
		c.logger.Debug("stream opened", map[string]any{
			"session_id":   req.SessionID.String(),
			"content_type": resp.Header.Get("Content-Type"),
		})
	}
	return &streamBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

// streamBody releases the request context when the stream is closed.
type streamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// getWithRetry performs an idempotent GET, retrying with exponential backoff
// on network errors and retriable statuses.
func (c *Client) getWithRetry(ctx context.Context, op, path string, out any) error {
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + c.retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", op, err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * c.backoff
			if c.logger != nil {
				c.logger.Warn("retrying backend request", map[string]any{
					"op":      op,
					"attempt": i + 1,
					"backoff": backoff.String(),
					"error":   lastErr.Error(),
				})
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", op, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = c.doJSON(ctx, op, http.MethodGet, path, nil, out)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retriable() {
			return lastErr
		}
		if errors.Is(lastErr, ErrMalformedResponse) {
			return lastErr
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

// doJSON performs one bounded request and decodes the enveloped response
// into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if err := decodeEnvelope(data, out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// envelope is the backend's JSON response wrapper.
type envelope struct {
	Status int             `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

// decodeEnvelope decodes data[.data] into out. Bodies without an envelope
// are decoded as-is.
func decodeEnvelope(data []byte, out any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, ErrEmptyResponse)
	}

	if data[0] == '{' {
		var env envelope
		if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 {
			data = env.Data
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

// statusError builds a StatusError, picking up the envelope error text.
func statusError(op string, resp *http.Response) error {
	statusErr := &StatusError{Op: op, Code: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return statusErr
	}

	var env envelope
	if json.Unmarshal(data, &env) == nil && env.Error != "" {
		statusErr.Message = env.Error
		return statusErr
	}
	statusErr.Message = strings.TrimSpace(string(data))
	return statusErr
}
