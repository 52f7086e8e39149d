package session

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/moneykeeper/authkit/internal/api"
	"github.com/moneykeeper/authkit/internal/config"
	"github.com/moneykeeper/authkit/internal/guard"
	"github.com/moneykeeper/authkit/internal/permission"
	"github.com/moneykeeper/authkit/internal/token"
	"github.com/moneykeeper/authkit/internal/tokenstore"
	"github.com/moneykeeper/authkit/internal/transport"
)

// Kit is the assembled session subsystem. Construct one per backend with
// NewKit; all parts share the same token store and permission cache.
type Kit struct {
	Gateway    *Gateway
	Refresher  *Refresher
	Authorizer *guard.Authorizer
	Cache      *permission.Cache
	Store      tokenstore.Store

	// HTTPClient carries the authenticating transport and can be used for
	// any further calls against the same backend.
	HTTPClient *http.Client

	closeStore func() error
}

// NewKit builds the full wiring from configuration: store backend, raw and
// authenticated API clients, single-flight refresher, authenticating
// transport, gateway, permission cache and route authorizer.
func NewKit(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Kit, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	skew := cfg.Token.ExpirySkew
	if skew <= 0 {
		skew = token.DefaultSkew
	}

	// The refresher gets its own unauthenticated client so the refresh call
	// can never recurse into the 401 handling it backs.
	rawClient, err := api.New(cfg.API.BaseURL,
		api.WithLogger(log),
		api.WithRateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst),
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.RequestTimeout}))
	if err != nil {
		return nil, err
	}
	refresher := NewRefresher(rawClient, store, skew, log)

	cache := permission.NewCache()
	bus := NewEventBus()

	kit := &Kit{
		Refresher:  refresher,
		Cache:      cache,
		Store:      store,
		closeStore: closeStore,
	}

	authn, err := transport.New(transport.Options{
		Store: store,
		Refresh: func(ctx context.Context) error {
			_, err := refresher.Refresh(ctx)
			return err
		},
		OnSessionExpired: func() {
			if kit.Gateway != nil {
				kit.Gateway.HandleSessionExpired()
			}
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	kit.HTTPClient = &http.Client{
		Transport: authn,
		Timeout:   cfg.API.RequestTimeout,
	}

	authedClient, err := api.New(cfg.API.BaseURL,
		api.WithLogger(log),
		api.WithRateLimit(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst),
		api.WithHTTPClient(kit.HTTPClient))
	if err != nil {
		return nil, err
	}

	kit.Gateway = NewGateway(authedClient, store, cache, bus, log)
	kit.Authorizer = guard.New(store, refresherAdapter{refresher}, cache, skew, log)
	return kit, nil
}

// Close releases backend resources held by the token store.
func (k *Kit) Close() error {
	if k.closeStore != nil {
		return k.closeStore()
	}
	return nil
}

// refresherAdapter narrows the refresher to the guard's dependency.
type refresherAdapter struct {
	r *Refresher
}

func (a refresherAdapter) Refresh(ctx context.Context) error {
	_, err := a.r.Refresh(ctx)
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (tokenstore.Store, func() error, error) {
	switch cfg.Store.Backend {
	case "memory":
		return tokenstore.NewMemory(), nil, nil
	case "file":
		path := cfg.Store.FilePath
		if path == "" {
			return nil, nil, fmt.Errorf("session: file store requires store.file_path")
		}
		store, err := tokenstore.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "redis":
		store, err := tokenstore.OpenRedis(ctx, tokenstore.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("session: unknown store backend %q", cfg.Store.Backend)
	}
}
