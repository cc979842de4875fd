package idconnect

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

// DefaultStorageKey is the storage entry holding the last authorized address.
const DefaultStorageKey = "idconnect.address"

// Session is the authorized identity of a provider instance.
type Session struct {
	Address common.Address
	ChainID int
}

// SessionCache mirrors the authorized address into persistent storage. Storage is shared by
// every instance on the same origin and is last-writer-wins.
type SessionCache struct {
	storage Storage
	key     string

	mu      sync.RWMutex
	address *common.Address
}

func NewSessionCache(storage Storage, key string) *SessionCache {
	if key == "" {
		key = DefaultStorageKey
	}
	return &SessionCache{storage: storage, key: key}
}

// Key is the storage key the address lives under.
func (s *SessionCache) Key() string {
	return s.key
}

// Get returns the in-memory address, falling back to storage. Unreadable or corrupted storage
// counts as absent.
func (s *SessionCache) Get(ctx context.Context) (common.Address, bool) {
	s.mu.RLock()
	if s.address != nil {
		addr := *s.address
		s.mu.RUnlock()
		return addr, true
	}
	s.mu.RUnlock()

	if s.storage == nil {
		return common.Address{}, false
	}
	raw, ok, err := s.storage.Get(ctx, s.key)
	if err != nil {
		log.Warnf("idconnect - read session %s: %v", s.key, err)
		return common.Address{}, false
	}
	if !ok {
		return common.Address{}, false
	}
	addr, err := ParseAddress(raw)
	if err != nil {
		log.Warnf("idconnect - ignoring stored session %s: %v", s.key, err)
		return common.Address{}, false
	}
	return addr, true
}

// Set persists addr and keeps it in memory. On a storage error nothing changes.
func (s *SessionCache) Set(ctx context.Context, addr common.Address) error {
	if s.storage != nil {
		if err := s.storage.Set(ctx, s.key, addr.Hex()); err != nil {
			return errors.Wrapf(err, "persist session %s", s.key)
		}
	}
	s.mu.Lock()
	s.address = &addr
	s.mu.Unlock()
	return nil
}

// Clear forgets the address in storage, then in memory. On a storage error nothing changes.
func (s *SessionCache) Clear(ctx context.Context) error {
	if s.storage != nil {
		if err := s.storage.Delete(ctx, s.key); err != nil {
			return errors.Wrapf(err, "delete session %s", s.key)
		}
	}
	s.mu.Lock()
	s.address = nil
	s.mu.Unlock()
	return nil
}
