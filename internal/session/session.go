// Package session orchestrates the client-side authentication lifecycle:
// login, logout, registration, token refresh and the derived permission set.
// It owns the only write paths into the token store; everything else reads.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moneykeeper/authkit/internal/api"
	"github.com/moneykeeper/authkit/internal/ids"
	"github.com/moneykeeper/authkit/internal/obs"
	"github.com/moneykeeper/authkit/internal/permission"
	"github.com/moneykeeper/authkit/internal/tokenstore"
)

// ErrInvalidCredentials indicates the server rejected the supplied
// username/password pair.
var ErrInvalidCredentials = errors.New("session: invalid credentials")

// Role is the role attached to the authenticated user.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Session is the immutable snapshot of an authenticated user. It is built
// once per login or profile fetch and replaced wholesale, never mutated in
// place, so concurrent readers cannot observe a partially updated session.
type Session struct {
	ID          string              `json:"id"`
	UserID      int64               `json:"user_id"`
	Username    string              `json:"username"`
	Email       string              `json:"email"`
	Role        Role                `json:"role"`
	Permissions map[string]struct{} `json:"-"`
	StartedAt   time.Time           `json:"started_at"`
}

// HasPermission reports whether the session holds the permission code.
func (s *Session) HasPermission(code string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Permissions[code]
	return ok
}

// Gateway performs login/logout/register orchestration and keeps the current
// session. Safe for concurrent use.
type Gateway struct {
	api   *api.Client
	store tokenstore.Store
	perms *permission.Cache
	bus   *EventBus
	log   *zap.Logger

	mu      sync.RWMutex
	current *Session
}

// NewGateway wires a gateway. The api client should carry the authenticating
// transport so the profile fetch after login is authorized; the login,
// register and refresh endpoints are exempt from it by path.
func NewGateway(client *api.Client, store tokenstore.Store, perms *permission.Cache, bus *EventBus, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{api: client, store: store, perms: perms, bus: bus, log: log}
}

// Login exchanges credentials for tokens, fetches the profile, derives the
// permission set and publishes a login event exactly once.
func (g *Gateway) Login(ctx context.Context, username, password string) (*Session, error) {
	res, err := g.api.Login(ctx, username, password)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnauthorized) {
			obs.LoginTotal.WithLabelValues("rejected").Inc()
			return nil, ErrInvalidCredentials
		}
		obs.LoginTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("session: login: %w", err)
	}

	if err := g.store.SetAccessToken(res.Access); err != nil {
		return nil, fmt.Errorf("session: persist access token: %w", err)
	}
	if err := g.store.SetRefreshToken(res.Refresh); err != nil {
		return nil, fmt.Errorf("session: persist refresh token: %w", err)
	}

	session, err := g.loadSession(ctx)
	if err != nil {
		obs.LoginTotal.WithLabelValues("profile_error").Inc()
		return nil, err
	}

	obs.LoginTotal.WithLabelValues("success").Inc()
	g.log.Info("logged in",
		zap.String("username", session.Username),
		zap.Int64("user_id", session.UserID),
		zap.String("role", session.Role.Name))
	g.bus.Publish(EventLogin, session)
	return session, nil
}

// Logout clears tokens and invalidates the session synchronously. Stateless
// JWT logout: no network call is required or made.
func (g *Gateway) Logout() error {
	err := g.store.Clear()

	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
	g.perms.Reset()

	g.bus.Publish(EventLogout, nil)
	g.log.Info("logged out")
	if err != nil {
		return fmt.Errorf("session: clear tokens: %w", err)
	}
	return nil
}

// Register creates an account. The caller still has to log in afterwards.
func (g *Gateway) Register(ctx context.Context, reg api.Registration) (*api.RegisterResult, error) {
	res, err := g.api.Register(ctx, reg)
	if err != nil {
		// Validation failures arrive as *api.Error with status and body for
		// the caller to display.
		return nil, fmt.Errorf("session: register: %w", err)
	}
	return res, nil
}

// Refresh re-fetches the current-user profile and rebuilds the session and
// permission set from it.
func (g *Gateway) Refresh(ctx context.Context) (*Session, error) {
	return g.loadSession(ctx)
}

// CurrentSession returns the active session, or nil when logged out.
func (g *Gateway) CurrentSession() *Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// HandleSessionExpired is invoked by the transport when a 401 could not be
// recovered by a refresh. It performs the local logout and publishes an
// expiry event instead of a plain logout.
func (g *Gateway) HandleSessionExpired() {
	obs.SessionExpiredTotal.Inc()
	_ = g.store.Clear()

	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
	g.perms.Reset()

	g.bus.Publish(EventExpired, nil)
	g.log.Warn("session expired, tokens cleared")
}

// Events exposes the session event bus for subscribers.
func (g *Gateway) Events() *EventBus { return g.bus }

func (g *Gateway) loadSession(ctx context.Context) (*Session, error) {
	profile, err := g.api.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: fetch profile: %w", err)
	}

	codes := ExtractPermissionCodes(profile)
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}

	session := &Session{
		ID:          ids.New(),
		UserID:      profile.ID,
		Username:    profile.Username,
		Email:       profile.Email,
		Permissions: set,
		StartedAt:   time.Now().UTC(),
	}
	if profile.Role != nil {
		session.Role = Role{ID: profile.Role.ID, Name: profile.Role.Name}
	}

	g.mu.Lock()
	g.current = session
	g.mu.Unlock()
	g.perms.Replace(codes)

	return session, nil
}
