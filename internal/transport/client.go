// Package transport is the JSON-over-HTTP client the entity adapters talk to
// the todo service through. It adds the bearer token, retries transient
// failures with [Retry], and classifies errors so the sync coordinator can
// tell network failures from authentication rejections.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 10 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 << 20
)

var (
	// ErrUnauthorized matches 401 and 403 responses and missing credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable matches transient failures: connection errors, timeouts,
	// 5xx and 429 responses.
	ErrUnavailable = errors.New("server unavailable")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string

	// RetryAfter is the delay a 429 or 503 response asked for, or zero.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match a StatusError against ErrUnauthorized and
// ErrUnavailable.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrUnavailable:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsAuth reports whether err is an authentication rejection.
func IsAuth(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsTransient reports whether err is a network-level failure worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrUnavailable) }

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// Timeout bounds a single attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxAttempts is the number of tries for transient failures. Defaults to
	// DefaultMaxAttempts.
	MaxAttempts int

	// HTTPClient replaces the default client. Its Timeout is left alone.
	HTTPClient *http.Client
}

// Client performs JSON requests against one server. Create one with [New].
type Client struct {
	baseURL     string
	hc          *http.Client
	tokens      TokenSource
	maxAttempts int
	log         *slog.Logger
}

// New creates a Client for baseURL. tokens may be nil for unauthenticated
// servers.
func New(baseURL string, tokens TokenSource, opts Options, logger *slog.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return &Client{
		baseURL:     baseURL,
		hc:          hc,
		tokens:      tokens,
		maxAttempts: attempts,
		log:         logger,
	}
}

// BaseURL returns the server root the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// URL joins the base URL and an endpoint path with exactly one slash.
func (c *Client) URL(path string) string {
	return JoinURL(c.baseURL, path)
}

// JoinURL joins base and path with exactly one slash between them.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Do sends in as the JSON body of a method request to path and decodes the
// response into out. in and out may be nil. Transient failures are retried.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
	}

	return Retry(ctx, c.maxAttempts, func() error {
		err := c.attempt(ctx, method, path, body, out)
		if err != nil && !IsTransient(err) {
			return Permanent(err)
		}
		if err != nil {
			c.log.Debug("transient request failure", "method", method, "path", path, "error", err)
		}
		return err
	})
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	endpoint := c.URL(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}
	if len(data) > maxResponseSize {
		return fmt.Errorf("response from %s exceeds %d bytes", endpoint, maxResponseSize)
	}
	c.log.Debug("http request", "method", method, "url", endpoint, "status", resp.StatusCode, "bytes", len(data))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return se
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, endpoint, err)
	}
	return nil
}

// parseRetryAfter reads a Retry-After value given either as delay seconds or
// as an HTTP date. Missing, malformed and past values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(v)
	if err != nil || !at.After(now) {
		return 0
	}
	return at.Sub(now).Round(time.Second)
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
