// Package cache holds the persistent key/value drivers backing idconnect sessions.
package cache

import (
	"context"

	"moff.io/idconnect/internal/config"
	"moff.io/idconnect/pkg/errors"
)

// Store is origin-scoped key/value storage. Get reports ok=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Purge removes every key the store holds.
	Purge(ctx context.Context) error
	Close() error
}

// New opens the driver selected by cfg.Driver. namespace scopes redis keys.
func New(ctx context.Context, cfg *config.Storage, namespace string) (Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageFile:
		return NewFileStore(cfg.Path)
	case config.StorageRedis:
		return NewRedisStore(ctx, &cfg.Redis, namespace)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
