package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stablestate/internal/cache"
	"github.com/hupe1980/stablestate/internal/fs"
)

func exerciseStore(t *testing.T, s BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "a/one", []byte("hello")))
	require.NoError(t, s.Put(ctx, "a/two", []byte("world!")))
	require.NoError(t, s.Put(ctx, "b", nil))

	data, err := Get(ctx, s, "a/one")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	b, err := s.Open(ctx, "a/two")
	require.NoError(t, err)
	assert.Equal(t, int64(6), b.Size())
	buf := make([]byte, 3)
	n, err := b.ReadAt(ctx, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "rld", string(buf))
	require.NoError(t, b.Close())

	empty, err := Get(ctx, s, "b")
	require.NoError(t, err)
	assert.Empty(t, empty)

	names, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "a/two"}, names)

	require.NoError(t, s.Put(ctx, "a/one", []byte("replaced")))
	data, err = Get(ctx, s, "a/one")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	require.NoError(t, s.Delete(ctx, "a/one"))
	require.NoError(t, s.Delete(ctx, "a/one"))
	_, err = s.Open(ctx, "a/one")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/two", "b"}, names)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	exerciseStore(t, NewLocalStore(t.TempDir()))
}

func TestCachingStore(t *testing.T) {
	lru := cache.NewLRU[string](1<<10, nil)
	exerciseStore(t, NewCachingStore(NewMemoryStore(), lru))
}

func TestCachingStore_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "m", []byte("manifest")))

	lru := cache.NewLRU[string](1<<10, nil)
	s := NewCachingStore(inner, lru)

	_, err := Get(ctx, s, "m")
	require.NoError(t, err)
	_, err = Get(ctx, s, "m")
	require.NoError(t, err)

	hits, misses := lru.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// A Put through the cache drops the stale entry.
	require.NoError(t, s.Put(ctx, "m", []byte("newer")))
	data, err := Get(ctx, s, "m")
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), data)
}

func TestLocalStore_FailedSyncLeavesOldBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, NewLocalStore(dir).Put(ctx, "blob", []byte("old")))

	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule(".tmp", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	s := NewLocalStore(dir, WithFileSystem(faulty))

	err := s.Put(ctx, "blob", []byte("new"))
	require.ErrorIs(t, err, fs.ErrInjected)

	data, err := Get(ctx, s, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), data)

	_, err = os.Stat(filepath.Join(dir, "blob.tmp"))
	assert.True(t, os.IsNotExist(err))
}
