package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "test.mem")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("hello"), 3)
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(8), info.Size())

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	assert.NoError(t, f.Truncate(2))
	assert.NoError(t, f.Close())

	info2, err := lfs.Stat(fpath)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), info2.Size())

	entries, err := lfs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "renamed.mem")
	assert.NoError(t, lfs.Rename(fpath, newPath))
	assert.NoError(t, lfs.Remove(newPath))

	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_WriteAtLimit(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule("limited", Fault{FailAfterBytes: 4})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "limited.mem"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte("abcd"), 0)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("e"), 4)
	assert.ErrorIs(t, err, ErrInjected)
}

func TestFaultyFS_SyncAndTruncate(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule("broken", Fault{FailAfterBytes: -1, FailOnSync: true, FailOnTruncate: true})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "broken.mem"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.ErrorIs(t, f.Truncate(0), ErrInjected)
}
