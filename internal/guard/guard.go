// Package guard decides whether a navigation may proceed. It is free of any
// routing-framework types: the caller hands it the attempted URL and the
// permission code the route requires, and receives an allow/redirect decision.
package guard

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/moneykeeper/authkit/internal/token"
	"github.com/moneykeeper/authkit/internal/tokenstore"
)

// Redirect targets.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allow    bool
	Redirect string
	Params   url.Values
}

// Allow is the decision that lets a navigation proceed.
func Allow() Decision { return Decision{Allow: true} }

// RedirectTo builds a denial targeting path with the given query parameters.
func RedirectTo(path string, params url.Values) Decision {
	return Decision{Redirect: path, Params: params}
}

// URL renders the redirect target with its query string.
func (d Decision) URL() string {
	if d.Allow || d.Redirect == "" {
		return ""
	}
	if len(d.Params) == 0 {
		return d.Redirect
	}
	return d.Redirect + "?" + d.Params.Encode()
}

// Refresher is the slice of the session refresher the guard depends on.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// PermissionSource answers permission queries once the set has loaded.
type PermissionSource interface {
	WaitLoaded(ctx context.Context) error
	Has(code string) bool
}

// Authorizer composes the session check and the permission check executed on
// every guarded navigation.
type Authorizer struct {
	store     tokenstore.Store
	refresher Refresher
	perms     PermissionSource
	skew      time.Duration
	log       *zap.Logger
}

// New builds an authorizer.
func New(store tokenstore.Store, refresher Refresher, perms PermissionSource, skew time.Duration, log *zap.Logger) *Authorizer {
	if skew <= 0 {
		skew = token.DefaultSkew
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Authorizer{store: store, refresher: refresher, perms: perms, skew: skew, log: log}
}

// Authorize runs both checks for a navigation to attemptedURL. requiredPerm
// is empty for routes without a permission requirement. Every ambiguous or
// failing state denies.
func (a *Authorizer) Authorize(ctx context.Context, attemptedURL, requiredPerm string) Decision {
	if d := a.checkSession(ctx, attemptedURL); !d.Allow {
		return d
	}
	if requiredPerm == "" {
		return Allow()
	}
	return a.checkPermission(ctx, attemptedURL, requiredPerm)
}

func (a *Authorizer) checkSession(ctx context.Context, attemptedURL string) Decision {
	access := a.store.AccessToken()
	refresh := a.store.RefreshToken()

	if access == "" && refresh == "" {
		return loginRedirect(attemptedURL)
	}

	if access != "" && !token.IsExpired(access, a.skew) {
		return Allow()
	}

	// Access token is missing or stale; a live refresh token can still save
	// the navigation. The guard blocks until the refresh settles.
	if refresh != "" && !token.IsExpired(refresh, a.skew) {
		if err := a.refresher.Refresh(ctx); err != nil {
			a.log.Debug("inline refresh during navigation failed", zap.Error(err))
			_ = a.store.Clear()
			return loginRedirect(attemptedURL)
		}
		return Allow()
	}

	// Both tokens are expired or unusable.
	_ = a.store.Clear()
	return loginRedirect(attemptedURL)
}

func (a *Authorizer) checkPermission(ctx context.Context, attemptedURL, code string) Decision {
	// The set starts empty at boot, which is indistinguishable from denied.
	// Wait for the first population; a context error denies, never allows.
	if err := a.perms.WaitLoaded(ctx); err != nil {
		a.log.Debug("permission set not loaded in time", zap.String("permission", code), zap.Error(err))
		return unauthorizedRedirect(attemptedURL, code)
	}
	if !a.perms.Has(code) {
		return unauthorizedRedirect(attemptedURL, code)
	}
	return Allow()
}

func loginRedirect(attemptedURL string) Decision {
	return RedirectTo(LoginPath, url.Values{
		"returnUrl": {attemptedURL},
		"reason":    {"auth_required"},
	})
}

// unauthorizedRedirect carries the denied code and the attempted URL so the
// target page can display them.
func unauthorizedRedirect(attemptedURL, code string) Decision {
	return RedirectTo(UnauthorizedPath, url.Values{
		"permission": {code},
		"returnUrl":  {attemptedURL},
	})
}
