// Package client talks to the remote generation and scoring service over
// JSON/HTTP. A single Client implements every collaborator interface the
// engine needs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/logging"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4 << 10

// Client is a JSON/HTTP client for the remote service. It never retries.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *logging.Logger
	timeout    time.Duration
}

// New creates a Client for baseURL. A non-empty token is sent as a bearer
// token on every request.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewValidationError("base URL must be an absolute http(s) URL").
			WithField("api.base_url").WithValue(baseURL)
	}

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}
	logger := cfg.logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger.WithPhase("client"),
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *logging.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a per-request timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return errors.NewValidationError("timeout must not be negative").WithField("api.timeout_seconds")
		}
		cfg.timeout = d
		return nil
	}
}

// errorBody is the service's error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doJSON sends in as the JSON body (when non-nil) and decodes the response
// into out (when non-nil). Every failure is a *errors.CollaboratorError
// naming operation.
func (c *Client) doJSON(ctx context.Context, method, path, operation string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.NewCollaboratorError("encode request", err).
				WithCollaborator(operation).WithRetryable(false)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.NewCollaboratorError("create request", err).
			WithCollaborator(operation).WithRetryable(false)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "operation", operation, "method", method, "path", path, "error", err)
		return errors.NewCollaboratorError("request failed", err).WithCollaborator(operation)
	}
	defer resp.Body.Close()

	c.logger.Debug("response",
		"operation", operation,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(operation, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewCollaboratorError("decode response", err).
			WithCollaborator(operation).WithRetryable(false)
	}
	return nil
}

// statusError converts a non-2xx response. 5xx and 429 are retryable.
func statusError(operation string, resp *http.Response) *errors.CollaboratorError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(raw))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		switch {
		case eb.Message != "":
			msg = eb.Message
		case eb.Error != "":
			msg = eb.Error
		}
	}
	if msg == "" {
		msg = resp.Status
	}

	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return errors.NewCollaboratorError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg), nil).
		WithCollaborator(operation).
		WithStatusCode(resp.StatusCode).
		WithRetryable(retryable)
}
