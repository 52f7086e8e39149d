// Package api is the typed HTTP client for the backend REST endpoints the
// session subsystem consumes: login, register, token refresh and the
// current-user profile. It performs no authentication itself; bearer
// credentials are attached by the transport wrapping the http.Client it is
// given.
package api

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Endpoint paths relative to the base URL.
const (
	PathLogin    = "/api/login/"
	PathRegister = "/api/register/"
	PathRefresh  = "/api/token/refresh/"
	PathMe       = "/api/users/me/"
)

const defaultTimeout = 15 * time.Second

// Error is returned for any non-2xx response that has no more specific
// classification. Callers branch on StatusCode.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("api: unexpected status %d: %s", e.StatusCode, body)
}

// Client talks to the backend. The zero value is not usable; construct with New.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying http.Client, typically one whose
// transport attaches bearer credentials.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outbound request rate, protecting a shared backend from
// a misconfigured polling loop. Zero rps disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLogger attaches a structured logger. Token values are never logged.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api: base url %q must be absolute", baseURL)
	}

	c := &Client{
		base: base,
		http: &http.Client{Timeout: defaultTimeout},
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	if err := c.post(ctx, PathLogin, LoginRequest{Username: username, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, reg Registration) (*RegisterResult, error) {
	var out RegisterResult
	if err := c.post(ctx, PathRegister, reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	var out RefreshResult
	if err := c.post(ctx, PathRefresh, refreshRequest{Refresh: refreshToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the current-user profile. The bearer token is attached by the
// transport; an unauthenticated client will simply receive a 401.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, PathMe, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("api: rate limit wait: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("api: decode response: %w", err)
		}
	}
	return nil
}
