// Package state persists per-account watch state behind a small keyed store
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/acctguard/acctguard/internal/config"
)

// UpdateFunc computes a new value from the current one.
// Returning ok=false leaves the key untouched.
type UpdateFunc func(old string, exists bool) (value string, ok bool, err error)

// KV is a string key-value store with atomic per-key read-modify-write
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// Open returns the backend named by cfg.Type
func Open(cfg config.StoreConfig) (KV, error) {
	switch cfg.Type {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "bolt", "bbolt":
		return NewBoltStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

// DefaultDBPath returns ~/.acctguard/state.db
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "state.db"
	}
	return filepath.Join(home, ".acctguard", "state.db")
}
