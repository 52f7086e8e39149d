// Package transport decorates an http.RoundTripper with bearer-token
// authentication and the 401 refresh-and-replay policy: on an unauthorized
// response the access token is refreshed once and the original request is
// re-issued exactly once with the new token. A second 401 is returned to the
// caller untouched, so a misbehaving server cannot induce a retry loop.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moneykeeper/authkit/internal/api"
	"github.com/moneykeeper/authkit/internal/obs"
	"github.com/moneykeeper/authkit/internal/tokenstore"
)

// ErrSessionExpired is returned when a 401 could not be recovered: there is
// no refresh token, or the refresh itself failed. The local session has been
// invalidated by the time the caller sees it.
var ErrSessionExpired = errors.New("transport: session expired")

// authPaths are exempt from authentication and from the 401 retry policy;
// they must never recurse into auth logic. Matched by suffix so a base URL
// mounted under a path prefix still exempts them.
var authPaths = []string{
	api.PathLogin,
	api.PathRegister,
	api.PathRefresh,
}

func isAuthPath(path string) bool {
	for _, p := range authPaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// refreshFunc is the minimal slice of the session refresher the transport
// needs; a func keeps the package free of a dependency cycle with session.
type refreshFunc func(ctx context.Context) error

// Authenticator is the outbound-request hook. Install it as the Transport of
// the http.Client used for API calls.
type Authenticator struct {
	base      http.RoundTripper
	store     tokenstore.Store
	refresh   refreshFunc
	onExpired func()
	log       *zap.Logger
}

// Options configures the Authenticator.
type Options struct {
	// Base is the wrapped transport; http.DefaultTransport when nil.
	Base http.RoundTripper
	// Store supplies the bearer token for outbound requests.
	Store tokenstore.Store
	// Refresh performs the single-flight token refresh.
	Refresh func(ctx context.Context) error
	// OnSessionExpired is called after an unrecoverable 401, before
	// ErrSessionExpired is returned. Typically the gateway's local logout.
	OnSessionExpired func()
	Logger           *zap.Logger
}

// New builds an Authenticator.
func New(opts Options) (*Authenticator, error) {
	if opts.Store == nil {
		return nil, errors.New("transport: token store is required")
	}
	if opts.Refresh == nil {
		return nil, errors.New("transport: refresh func is required")
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	onExpired := opts.OnSessionExpired
	if onExpired == nil {
		onExpired = func() {}
	}
	return &Authenticator{
		base:      base,
		store:     opts.Store,
		refresh:   opts.Refresh,
		onExpired: onExpired,
		log:       log,
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (a *Authenticator) RoundTrip(req *http.Request) (*http.Response, error) {
	if isAuthPath(req.URL.Path) {
		return a.base.RoundTrip(req)
	}

	// Buffer the body up front so a single replay is possible even for
	// requests built without GetBody.
	if req.Body != nil && req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("transport: buffer request body: %w", err)
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
		req.Body = io.NopCloser(bytes.NewReader(data))
	}

	first := a.prepare(req)
	resp, err := a.base.RoundTrip(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// 401: recover via refresh, or give up and invalidate the session.
	if a.store.RefreshToken() == "" {
		drain(resp)
		a.expire()
		return nil, ErrSessionExpired
	}
	if err := a.refresh(req.Context()); err != nil {
		drain(resp)
		a.log.Debug("refresh after 401 failed", zap.Error(err))
		a.expire()
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	drain(resp)

	retry, err := a.rewind(req)
	if err != nil {
		return nil, err
	}
	obs.ReplayTotal.Inc()
	a.log.Debug("replaying request with refreshed token",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path))

	// Exactly one replay: whatever comes back now, including another 401,
	// is the caller's answer.
	return a.base.RoundTrip(a.prepare(retry))
}

// prepare clones the request and attaches the bearer header and a request ID.
// RoundTrippers must not mutate the caller's request.
func (a *Authenticator) prepare(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	if access := a.store.AccessToken(); access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
	}
	if out.Header.Get("X-Request-ID") == "" {
		out.Header.Set("X-Request-ID", uuid.NewString())
	}
	return out
}

func (a *Authenticator) rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("transport: rewind request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

func (a *Authenticator) expire() {
	// Clear locally even when no hook is wired; the hook (usually the
	// gateway's local logout) may clear again, which is idempotent.
	_ = a.store.Clear()
	a.onExpired()
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
