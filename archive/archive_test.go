package archive

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stablestate/blobstore"
	"github.com/hupe1980/stablestate/internal/resource"
	"github.com/hupe1980/stablestate/memory"
)

// sampleMemory has four pages: text, random bytes, zeros and a short tail.
func sampleMemory(t *testing.T) *memory.VectorMemory {
	t.Helper()
	mem := memory.NewVectorMemory(0)
	_, err := mem.Grow(4)
	require.NoError(t, err)

	text := make([]byte, memory.PageSize)
	for i := range text {
		text[i] = "stable memory "[i%14]
	}
	require.NoError(t, mem.Write(0, text))

	noise := make([]byte, memory.PageSize)
	rand.New(rand.NewSource(7)).Read(noise)
	require.NoError(t, mem.Write(memory.PageSize, noise))

	require.NoError(t, mem.Write(3*memory.PageSize+100, []byte("tail")))
	return mem
}

func TestArchive_RoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()
			a := New(store, WithCompression(c), WithChunkSize(memory.PageSize),
				WithResourceController(resource.NewController(resource.Config{MaxTransfers: 3})))

			src := sampleMemory(t)
			m, err := a.Save(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), m.ID)
			require.Len(t, m.Chunks, 4)
			assert.True(t, m.Chunks[2].Zero())
			assert.False(t, m.Chunks[3].Zero())
			// Random bytes never compress well enough, so they stay raw.
			assert.Equal(t, CompressionNone, m.Chunks[1].Compression)
			if c != CompressionNone {
				assert.Equal(t, c, m.Chunks[0].Compression)
				assert.Less(t, m.Chunks[0].StoredSize, m.Chunks[0].RawSize)
			}

			dst := memory.NewVectorMemory(0)
			_, err = dst.Grow(9)
			require.NoError(t, err)
			got, err := a.Restore(ctx, dst, 0)
			require.NoError(t, err)
			assert.Equal(t, m.ID, got.ID)

			want, err := memory.Image(src)
			require.NoError(t, err)
			have, err := memory.Image(dst)
			require.NoError(t, err)
			assert.Equal(t, want, have)
		})
	}
}

func TestArchive_EmptyStore(t *testing.T) {
	a := New(blobstore.NewMemoryStore())

	_, err := a.Restore(context.Background(), memory.NewVectorMemory(0), 0)
	assert.ErrorIs(t, err, ErrNoArchive)
	_, err = a.Load(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoArchive)

	list, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestArchive_RestoreByID(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewMemoryStore(), WithCompression(CompressionZstd))

	mem := sampleMemory(t)
	first, err := memory.Image(mem)
	require.NoError(t, err)
	_, err = a.Save(ctx, mem)
	require.NoError(t, err)

	require.NoError(t, mem.Write(10, []byte("changed")))
	_, err = a.Save(ctx, mem)
	require.NoError(t, err)

	dst := memory.NewVectorMemory(0)
	_, err = a.Restore(ctx, dst, 1)
	require.NoError(t, err)
	got, err := memory.Image(dst)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestArchive_CorruptChunkLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New(store, WithChunkSize(memory.PageSize))

	m, err := a.Save(ctx, sampleMemory(t))
	require.NoError(t, err)

	stored, err := blobstore.Get(ctx, store, m.Chunks[1].Name)
	require.NoError(t, err)
	bad := append([]byte(nil), stored...)
	bad[5] ^= 0xFF
	require.NoError(t, store.Put(ctx, m.Chunks[1].Name, bad))

	dst := memory.NewVectorMemory(0)
	_, err = dst.Grow(1)
	require.NoError(t, err)
	require.NoError(t, dst.Write(0, []byte("keep")))

	_, err = a.Restore(ctx, dst, 0)
	require.ErrorIs(t, err, ErrCorrupt)

	buf := make([]byte, 4)
	require.NoError(t, dst.Read(0, buf))
	assert.Equal(t, "keep", string(buf))
	assert.Equal(t, uint64(1), dst.Size())
}

func TestArchive_CorruptManifest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New(store)

	_, err := a.Save(ctx, sampleMemory(t))
	require.NoError(t, err)

	data, err := blobstore.Get(ctx, store, ManifestName(1))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, ManifestName(1), data[:len(data)-3]))

	_, err = a.Load(ctx, 0)
	assert.ErrorIs(t, err, ErrCorrupt)

	list, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestArchive_ListAndPrune(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := New(store, WithChunkSize(memory.PageSize), WithClock(func() time.Time { return ts }))

	mem := sampleMemory(t)
	for range 4 {
		_, err := a.Save(ctx, mem)
		require.NoError(t, err)
	}

	list, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, m := range list {
		assert.Equal(t, uint64(i+1), m.ID)
		assert.True(t, ts.Equal(m.CreatedAt))
	}

	deleted, err := a.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, deleted)

	names, err := store.List(ctx, "chunks/000001/")
	require.NoError(t, err)
	assert.Empty(t, names)

	list, err = a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(3), list[0].ID)

	// The next archive continues the sequence.
	m, err := a.Save(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), m.ID)
}

func TestArchive_PruneKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New(store)

	mem := sampleMemory(t)
	for range 3 {
		_, err := a.Save(ctx, mem)
		require.NoError(t, err)
	}
	// Roll CURRENT back to the first archive.
	require.NoError(t, store.Put(ctx, CurrentName, []byte(ManifestName(1))))

	deleted, err := a.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, deleted)

	m, err := a.Load(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
}

func TestArchive_SaveHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(blobstore.NewMemoryStore(), WithChunkSize(memory.PageSize),
		WithResourceController(resource.NewController(resource.Config{IOBytesPerSec: 1 << 10})))
	_, err := a.Save(ctx, sampleMemory(t))
	assert.ErrorIs(t, err, context.Canceled)
}
