package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File persists the token pair as a small JSON document on disk, the
// local-storage analogue for CLI and daemon deployments. The file is written
// with 0600 permissions via a temp-file rename so readers never observe a
// half-written document.
type File struct {
	mu   sync.RWMutex
	path string
	doc  map[string]string
}

// OpenFile loads the store at path, creating parent directories as needed.
// A missing file yields an empty store.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("tokenstore: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("tokenstore: create dir: %w", err)
	}

	doc := make(map[string]string)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("tokenstore: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First run: nothing persisted yet.
	default:
		return nil, fmt.Errorf("tokenstore: read %s: %w", path, err)
	}

	return &File{path: path, doc: doc}, nil
}

func (f *File) AccessToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc[accessKey]
}

func (f *File) RefreshToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc[refreshKey]
}

func (f *File) SetAccessToken(token string) error {
	return f.set(accessKey, token)
}

func (f *File) SetRefreshToken(token string) error {
	return f.set(refreshKey, token)
}

// Clear removes both keys and deletes the document. Safe to call repeatedly.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc = make(map[string]string)
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tokenstore: remove %s: %w", f.path, err)
	}
	return nil
}

func (f *File) set(key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc[key] = token
	return f.persistLocked()
}

func (f *File) persistLocked() error {
	data, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encode: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("tokenstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("tokenstore: rename %s: %w", tmp, err)
	}
	return nil
}
