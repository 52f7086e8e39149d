package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/moneykeeper/authkit/internal/api"
	"github.com/moneykeeper/authkit/internal/obs"
	"github.com/moneykeeper/authkit/internal/token"
	"github.com/moneykeeper/authkit/internal/tokenstore"
)

var (
	// ErrNoRefreshToken indicates the store holds no refresh token, so a
	// refresh cannot even be attempted.
	ErrNoRefreshToken = errors.New("session: no refresh token")

	// ErrRefreshTokenExpired indicates the stored refresh token is itself
	// past its lifetime; no network call is made.
	ErrRefreshTokenExpired = errors.New("session: refresh token expired")

	// ErrRefreshRejected indicates the server answered 401 to the refresh
	// call; the caller should force a logout.
	ErrRefreshRejected = errors.New("session: refresh rejected")

	// ErrInvalidRefreshToken indicates the server answered 400 to the
	// refresh call.
	ErrInvalidRefreshToken = errors.New("session: invalid refresh token")
)

// RefreshFailedError wraps any refresh failure that is not a definitive
// rejection, typically a transport error. A later attempt may succeed.
type RefreshFailedError struct {
	Cause error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("session: refresh failed: %v", e.Cause)
}

func (e *RefreshFailedError) Unwrap() error { return e.Cause }

// TokenPair is the result of a successful refresh.
type TokenPair struct {
	Access  string
	Refresh string
}

// Refresher exchanges the stored refresh token for a new access token.
// Concurrent callers are collapsed into a single network call: the in-flight
// marker is taken before the call is issued and released only after it
// settles, so of N callers that each discover an expired access token exactly
// one refresh request reaches the server and all N observe its outcome.
type Refresher struct {
	api   *api.Client
	store tokenstore.Store
	skew  time.Duration
	group singleflight.Group
	log   *zap.Logger
}

// NewRefresher builds a refresher. The api client must be an unauthenticated
// one: the refresh endpoint must never recurse into auth logic.
func NewRefresher(client *api.Client, store tokenstore.Store, skew time.Duration, log *zap.Logger) *Refresher {
	if skew <= 0 {
		skew = token.DefaultSkew
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{api: client, store: store, skew: skew, log: log}
}

// Refresh performs the single-flight refresh. All concurrent callers receive
// the same TokenPair or the same error.
func (r *Refresher) Refresh(ctx context.Context) (TokenPair, error) {
	v, err, shared := r.group.Do("refresh", func() (any, error) {
		// The in-flight call always runs to completion; cancelling one
		// caller must not abandon the result the others are waiting on.
		return r.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		obs.RefreshCoalescedTotal.Inc()
	}
	if err != nil {
		return TokenPair{}, err
	}
	return v.(TokenPair), nil
}

func (r *Refresher) refresh(ctx context.Context) (TokenPair, error) {
	refreshToken := r.store.RefreshToken()
	if refreshToken == "" {
		obs.RefreshTotal.WithLabelValues("no_token").Inc()
		return TokenPair{}, ErrNoRefreshToken
	}
	if token.IsExpired(refreshToken, r.skew) {
		obs.RefreshTotal.WithLabelValues("token_expired").Inc()
		return TokenPair{}, ErrRefreshTokenExpired
	}

	start := time.Now()
	res, err := r.api.Refresh(ctx, refreshToken)
	obs.RefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return TokenPair{}, r.classify(err)
	}

	if err := r.store.SetAccessToken(res.Access); err != nil {
		obs.RefreshTotal.WithLabelValues("store_error").Inc()
		return TokenPair{}, fmt.Errorf("session: persist access token: %w", err)
	}
	pair := TokenPair{Access: res.Access, Refresh: refreshToken}
	if res.Refresh != "" {
		// The server rotated the refresh token; otherwise the old one stays.
		if err := r.store.SetRefreshToken(res.Refresh); err != nil {
			obs.RefreshTotal.WithLabelValues("store_error").Inc()
			return TokenPair{}, fmt.Errorf("session: persist refresh token: %w", err)
		}
		pair.Refresh = res.Refresh
	}

	obs.RefreshTotal.WithLabelValues("success").Inc()
	r.log.Debug("access token refreshed",
		zap.String("access", obs.RedactToken(pair.Access)),
		zap.Bool("rotated", res.Refresh != ""))
	return pair, nil
}

func (r *Refresher) classify(err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			obs.RefreshTotal.WithLabelValues("rejected").Inc()
			return ErrRefreshRejected
		case http.StatusBadRequest:
			obs.RefreshTotal.WithLabelValues("invalid").Inc()
			return ErrInvalidRefreshToken
		}
	}
	obs.RefreshTotal.WithLabelValues("failed").Inc()
	return &RefreshFailedError{Cause: err}
}
