package cache

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/idconnect/internal/config"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "b", "2"))
	require.NoError(t, s.Set(ctx, "a", "3"))
	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "missing"))
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Purge(ctx))
	_, ok, err = s.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreSharedBetweenInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	first, err := NewFileStore(path)
	require.NoError(t, err)
	second, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, first.Set(ctx, "idconnect.address", "0xabc"))
	v, ok, err := second.Get(ctx, "idconnect.address")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0xabc", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreCorrupted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, ioutil.WriteFile(path, []byte("{not json"), 0600))
	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Set(ctx, "k", "v"))
	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, &config.Storage{Driver: config.StorageMemory}, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(ctx, &config.Storage{Driver: config.StorageFile, Path: filepath.Join(t.TempDir(), "s.json")}, "")
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = New(ctx, &config.Storage{Driver: "etcd"}, "")
	assert.Error(t, err)
}

// Runs against a real server when IDCONNECT_TEST_REDIS is set, e.g. 127.0.0.1:6379.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("IDCONNECT_TEST_REDIS")
	if addr == "" {
		t.Skip("IDCONNECT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	exerciseStore(t, NewRedisStoreWithClient(client, "idconnect-test"))
}
