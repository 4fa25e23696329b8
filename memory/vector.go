package memory

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// VectorMemory is a Memory held in process memory.
// Thread-safe for concurrent reads and writes.
type VectorMemory struct {
	mu       sync.RWMutex
	data     []byte
	maxPages uint64
}

var (
	_ Memory    = (*VectorMemory)(nil)
	_ Truncater = (*VectorMemory)(nil)
)

// NewVectorMemory creates an empty memory. maxPages limits growth; 0 means
// unlimited.
func NewVectorMemory(maxPages uint64) *VectorMemory {
	return &VectorMemory{maxPages: maxPages}
}

// Size returns the current size in pages.
func (m *VectorMemory) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data)) / PageSize
}

// Grow adds pages and returns the previous size in pages.
func (m *VectorMemory) Grow(pages uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := uint64(len(m.data)) / PageSize
	if m.maxPages > 0 && prev+pages > m.maxPages {
		return prev, errors.Wrapf(ErrGrowFailed, "%d + %d pages exceeds limit of %d", prev, pages, m.maxPages)
	}
	m.data = append(m.data, make([]byte, pages*PageSize)...)
	return prev, nil
}

// Read fills dst starting at offset.
func (m *VectorMemory) Read(offset uint64, dst []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := checkBounds(uint64(len(m.data)), offset, len(dst)); err != nil {
		return err
	}
	copy(dst, m.data[offset:])
	return nil
}

// Write copies src starting at offset.
func (m *VectorMemory) Write(offset uint64, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkBounds(uint64(len(m.data)), offset, len(src)); err != nil {
		return err
	}
	copy(m.data[offset:], src)
	return nil
}

// Truncate shrinks the memory to pages.
func (m *VectorMemory) Truncate(pages uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := pages * PageSize; n < uint64(len(m.data)) {
		m.data = m.data[:n:n]
	}
	return nil
}
