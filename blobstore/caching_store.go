package blobstore

import (
	"context"

	"github.com/hupe1980/stablestate/internal/cache"
)

// CachingStore wraps a BlobStore and keeps whole blobs in an LRU. Blobs are
// immutable once written, so a cached copy only goes stale through Put or
// Delete on this store, both of which invalidate it.
type CachingStore struct {
	inner BlobStore
	cache *cache.LRU[string]
}

// NewCachingStore creates a CachingStore in front of inner.
func NewCachingStore(inner BlobStore, c *cache.LRU[string]) *CachingStore {
	return &CachingStore{inner: inner, cache: c}
}

// Open serves name from the cache or reads it fully from the inner store.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		return &bytesBlob{data: data}, nil
	}
	data, err := Get(ctx, s.inner, name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, data)
	return &bytesBlob{data: data}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Delete(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Delete(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}
