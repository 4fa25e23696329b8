package minio

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stablestate/blobstore"
)

// TestStore_Integration requires a running MinIO instance on localhost:9000.
func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	store, err := Dial(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "test-stablestate",
		Prefix:    "test-prefix/",
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := store.client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := store.client.BucketExists(ctx, store.bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}))
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "test.txt", data))

	got, err := blobstore.Get(ctx, store, "test.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	blob, err := store.Open(ctx, "test.txt")
	require.NoError(t, err)
	part := make([]byte, 5)
	_, err = blob.ReadAt(ctx, part, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(part))
	require.NoError(t, blob.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "test.txt")

	require.NoError(t, store.Delete(ctx, "test.txt"))
	_, err = store.Open(ctx, "test.txt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "bucket", "root/")
	assert.Equal(t, "root/ARCHIVE-000001.bin", s.key("ARCHIVE-000001.bin"))
	assert.Equal(t, "other", NewStore(nil, "bucket", "").key("other"))
}
