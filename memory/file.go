package memory

import (
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/internal/flock"
	"github.com/hupe1980/stablestate/internal/fs"
)

// FileMemory is a Memory persisted in a single file.
//
// The file is held under an exclusive advisory lock for as long as the
// memory is open, so two hosts never write the same stable memory.
type FileMemory struct {
	mu       sync.RWMutex
	f        fs.File
	pages    uint64
	maxPages uint64
	closed   bool
}

var (
	_ Memory    = (*FileMemory)(nil)
	_ Truncater = (*FileMemory)(nil)
)

// FileOption configures OpenFile.
type FileOption func(*fileOptions)

type fileOptions struct {
	fsys     fs.FileSystem
	maxPages uint64
	perm     os.FileMode
}

// WithFileSystem sets the file system used to open the backing file.
func WithFileSystem(fsys fs.FileSystem) FileOption {
	return func(o *fileOptions) {
		o.fsys = fsys
	}
}

// WithMaxPages limits growth of the memory.
func WithMaxPages(pages uint64) FileOption {
	return func(o *fileOptions) {
		o.maxPages = pages
	}
}

// OpenFile opens or creates the memory file at path. A file whose size is not
// a whole number of pages is extended to the next page boundary.
func OpenFile(path string, optFns ...FileOption) (*FileMemory, error) {
	o := fileOptions{fsys: fs.Default, perm: 0o600}
	for _, fn := range optFns {
		fn(&o)
	}

	f, err := o.fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, o.perm)
	if err != nil {
		return nil, errors.Wrapf(err, "open memory file %s", path)
	}
	if err := flock.Lock(f.Fd()); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "lock memory file %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	pages := PagesFor(uint64(info.Size()))
	if uint64(info.Size()) != pages*PageSize {
		if err := f.Truncate(int64(pages * PageSize)); err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, "align memory file")
		}
	}

	return &FileMemory{f: f, pages: pages, maxPages: o.maxPages}, nil
}

// Size returns the current size in pages.
func (m *FileMemory) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pages
}

// Grow extends the file by pages.
func (m *FileMemory) Grow(pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.pages
	if m.closed {
		return prev, ErrClosed
	}
	if m.maxPages > 0 && prev+pages > m.maxPages {
		return prev, errors.Wrapf(ErrGrowFailed, "%d + %d pages exceeds limit of %d", prev, pages, m.maxPages)
	}
	if err := m.f.Truncate(int64((prev + pages) * PageSize)); err != nil {
		return prev, fmt.Errorf("%w: extend memory file: %w", ErrGrowFailed, err)
	}
	m.pages = prev + pages
	return prev, nil
}

// Read fills dst starting at offset.
func (m *FileMemory) Read(offset uint64, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if err := checkBounds(m.pages*PageSize, offset, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	_, err := m.f.ReadAt(dst, int64(offset))
	return err
}

// Write copies src starting at offset.
func (m *FileMemory) Write(offset uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if err := checkBounds(m.pages*PageSize, offset, len(src)); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	_, err := m.f.WriteAt(src, int64(offset))
	return err
}

// Truncate shrinks the file to pages.
func (m *FileMemory) Truncate(pages uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if pages >= m.pages {
		return nil
	}
	if err := m.f.Truncate(int64(pages * PageSize)); err != nil {
		return err
	}
	m.pages = pages
	return nil
}

// Sync flushes the file to stable storage.
func (m *FileMemory) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return m.f.Sync()
}

// Close syncs, unlocks and closes the file.
func (m *FileMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	err := m.f.Sync()
	if unlockErr := flock.Unlock(m.f.Fd()); unlockErr != nil && err == nil {
		err = unlockErr
	}
	if closeErr := m.f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
