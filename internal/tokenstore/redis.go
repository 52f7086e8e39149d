package tokenstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the token pair in a Redis hash so several processes of the same
// operator share one session. Reads come from an in-process mirror loaded at
// open time and refreshed on every write; writes go to Redis synchronously.
type Redis struct {
	mu     sync.RWMutex
	client *redis.Client
	key    string
	cached map[string]string
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Key is the hash key the pair lives under; defaults to "authkit:tokens".
	Key string
}

// OpenRedis connects to Redis, verifies the connection and loads any
// previously persisted pair.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("tokenstore: redis addr is required")
	}
	key := opts.Key
	if key == "" {
		key = "authkit:tokens"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tokenstore: ping redis: %w", err)
	}

	cached, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tokenstore: load %s: %w", key, err)
	}
	if cached == nil {
		cached = make(map[string]string)
	}

	return &Redis{client: client, key: key, cached: cached}, nil
}

func (r *Redis) AccessToken() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached[accessKey]
}

func (r *Redis) RefreshToken() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached[refreshKey]
}

func (r *Redis) SetAccessToken(token string) error {
	return r.set(accessKey, token)
}

func (r *Redis) SetRefreshToken(token string) error {
	return r.set(refreshKey, token)
}

func (r *Redis) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = make(map[string]string)
	if err := r.client.Del(context.Background(), r.key).Err(); err != nil {
		return fmt.Errorf("tokenstore: clear %s: %w", r.key, err)
	}
	return nil
}

// Close releases the underlying connection.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) set(field, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.client.HSet(context.Background(), r.key, field, token).Err(); err != nil {
		return fmt.Errorf("tokenstore: set %s/%s: %w", r.key, field, err)
	}
	r.cached[field] = token
	return nil
}
