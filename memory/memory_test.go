package memory

import (
	"path/filepath"
	"testing"

	"github.com/hupe1980/stablestate/internal/flock"
	"github.com/hupe1980/stablestate/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorMemory_GrowReadWrite(t *testing.T) {
	m := NewVectorMemory(0)
	assert.Equal(t, uint64(0), m.Size())

	err := m.Write(0, []byte{1})
	assert.ErrorIs(t, err, ErrOutOfBounds)

	prev, err := m.Grow(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), prev)
	assert.Equal(t, uint64(2), m.Size())
	assert.Equal(t, uint64(2*PageSize), Bytes(m))

	// Straddle the page boundary.
	require.NoError(t, m.Write(PageSize-2, []byte("abcd")))
	buf := make([]byte, 4)
	require.NoError(t, m.Read(PageSize-2, buf))
	assert.Equal(t, "abcd", string(buf))

	err = m.Read(2*PageSize-1, make([]byte, 2))
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestVectorMemory_MaxPages(t *testing.T) {
	m := NewVectorMemory(3)
	_, err := m.Grow(3)
	require.NoError(t, err)

	prev, err := m.Grow(1)
	assert.ErrorIs(t, err, ErrGrowFailed)
	assert.Equal(t, uint64(3), prev)
	assert.Equal(t, uint64(3), m.Size())
}

func TestEnsureBytes(t *testing.T) {
	m := NewVectorMemory(0)
	require.NoError(t, EnsureBytes(m, 1))
	assert.Equal(t, uint64(1), m.Size())
	require.NoError(t, EnsureBytes(m, PageSize))
	assert.Equal(t, uint64(1), m.Size())
	require.NoError(t, EnsureBytes(m, PageSize+1))
	assert.Equal(t, uint64(2), m.Size())
}

func TestImageRestore(t *testing.T) {
	m := NewVectorMemory(0)
	require.NoError(t, EnsureBytes(m, 10))
	require.NoError(t, m.Write(0, []byte("before")))

	img, err := Image(m)
	require.NoError(t, err)
	require.Len(t, img, PageSize)

	_, err = m.Grow(4)
	require.NoError(t, err)
	require.NoError(t, m.Write(0, []byte("after!")))

	require.NoError(t, Restore(m, img))
	assert.Equal(t, uint64(1), m.Size())

	buf := make([]byte, 6)
	require.NoError(t, m.Read(0, buf))
	assert.Equal(t, "before", string(buf))

	assert.Error(t, Restore(m, []byte("odd")))
}

func TestFileMemory_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stable.mem")

	m, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, EnsureBytes(m, PageSize+10))
	require.NoError(t, m.Write(PageSize+3, []byte("durable")))
	require.NoError(t, m.Close())

	m, err = OpenFile(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, uint64(2), m.Size())
	buf := make([]byte, 7)
	require.NoError(t, m.Read(PageSize+3, buf))
	assert.Equal(t, "durable", string(buf))

	require.NoError(t, m.Truncate(1))
	assert.Equal(t, uint64(1), m.Size())
	assert.ErrorIs(t, m.Read(PageSize, buf), ErrOutOfBounds)
}

func TestFileMemory_ExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stable.mem")

	m, err := OpenFile(path)
	require.NoError(t, err)
	defer m.Close()

	_, err = OpenFile(path)
	if err == nil {
		t.Skip("advisory locking not supported on this platform")
	}
	assert.ErrorIs(t, err, flock.ErrLocked)
}

func TestFileMemory_GrowFailureIsReported(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("faulty.mem", fs.Fault{FailAfterBytes: -1, FailOnTruncate: true})

	m, err := OpenFile(filepath.Join(t.TempDir(), "faulty.mem"), WithFileSystem(ffs))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Grow(1)
	assert.ErrorIs(t, err, ErrGrowFailed)
	assert.Equal(t, uint64(0), m.Size())
}

func TestFileMemory_ClosedMemory(t *testing.T) {
	m, err := OpenFile(filepath.Join(t.TempDir(), "closed.mem"), WithMaxPages(1))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Grow(1)
	assert.ErrorIs(t, err, ErrClosed)
}
