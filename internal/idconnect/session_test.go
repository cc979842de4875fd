package idconnect

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	cache := NewSessionCache(storage, "")
	assert.Equal(t, DefaultStorageKey, cache.Key())

	_, ok := cache.Get(ctx)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, common.HexToAddress(testAddress)))
	stored, ok := storage.value(DefaultStorageKey)
	require.True(t, ok)
	assert.Equal(t, testAddress, stored)

	// A second cache over the same storage sees the address.
	other := NewSessionCache(storage, "")
	addr, ok := other.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, testAddress, addr.Hex())

	require.NoError(t, cache.Clear(ctx))
	_, ok = cache.Get(ctx)
	assert.False(t, ok)
	_, ok = storage.value(DefaultStorageKey)
	assert.False(t, ok)
}

func TestSessionCacheNormalizesStoredAddress(t *testing.T) {
	storage := newMemStorage()
	storage.data["k"] = strings.ToLower(testAddress)

	addr, ok := NewSessionCache(storage, "k").Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, testAddress, addr.Hex())
}

func TestSessionCacheCorruptedStorage(t *testing.T) {
	for _, raw := range []string{"", "garbage", "0x1234", testAddress[2:], "0xF39fd6e51aad88F6F4ce6aB8827279cffFb92266"} {
		storage := newMemStorage()
		storage.data[DefaultStorageKey] = raw
		_, ok := NewSessionCache(storage, "").Get(context.Background())
		assert.False(t, ok, raw)
	}
}

func TestSessionCacheStorageErrors(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	storage.err = errStorageDown
	cache := NewSessionCache(storage, "")

	_, ok := cache.Get(ctx)
	assert.False(t, ok)

	err := cache.Set(ctx, common.HexToAddress(testAddress))
	require.ErrorIs(t, err, errStorageDown)
	_, ok = cache.Get(ctx)
	assert.False(t, ok)
}

func TestSessionCacheWithoutStorage(t *testing.T) {
	ctx := context.Background()
	cache := NewSessionCache(nil, "")
	require.NoError(t, cache.Set(ctx, common.HexToAddress(testAddress)))
	addr, ok := cache.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, testAddress, addr.Hex())
	require.NoError(t, cache.Clear(ctx))
	_, ok = cache.Get(ctx)
	assert.False(t, ok)
}

func TestSessionCacheClearKeepsAddressOnDeleteError(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()
	cache := NewSessionCache(storage, "")
	require.NoError(t, cache.Set(ctx, common.HexToAddress(testAddress)))

	storage.deleteErr = errStorageDown
	require.ErrorIs(t, cache.Clear(ctx), errStorageDown)
	addr, ok := cache.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, testAddress, addr.Hex())
	_, ok = storage.value(DefaultStorageKey)
	assert.True(t, ok)
}
