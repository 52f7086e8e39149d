// Package tokenstore persists the current access/refresh token pair.
//
// Every backend keeps the pair in memory and writes through to its durable
// medium synchronously on set, so a crash right after a successful login
// cannot lose the tokens. The two tokens are written independently; there is
// no transactional guarantee across the pair, and a partial write degrades
// to "needs re-login".
package tokenstore

import "sync"

// Storage keys shared by all backends. They mirror the keys the web client
// historically used, which keeps file stores inspectable with the same names.
const (
	accessKey  = "accessToken"
	refreshKey = "refreshToken"
)

// Store holds the current token pair. Reads are cheap in-memory lookups;
// writes persist before returning. Clear is idempotent.
type Store interface {
	AccessToken() string
	RefreshToken() string
	SetAccessToken(token string) error
	SetRefreshToken(token string) error
	Clear() error
}

// Memory is a volatile Store used in tests and short-lived tools.
type Memory struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

func (m *Memory) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh
}

func (m *Memory) SetAccessToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = token
	return nil
}

func (m *Memory) SetRefreshToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = token
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = ""
	m.refresh = ""
	return nil
}
