package memory

import (
	"github.com/cockroachdb/errors"
)

// PageSize is the granularity of growth in bytes.
const PageSize = 64 << 10

var (
	// ErrOutOfBounds is returned for reads or writes past the current size.
	ErrOutOfBounds = errors.New("memory: access out of bounds")
	// ErrGrowFailed is returned when a memory cannot grow by the requested pages.
	ErrGrowFailed = errors.New("memory: grow failed")
	// ErrClosed is returned when using a closed memory.
	ErrClosed = errors.New("memory: closed")
)

// Memory is a growable, page-granular byte space.
//
// Implementations do not need to be safe for concurrent use; the engine
// serializes all access.
type Memory interface {
	// Size returns the current size in pages.
	Size() uint64
	// Grow adds pages and returns the previous size in pages.
	Grow(pages uint64) (uint64, error)
	// Read fills dst starting at byte offset.
	Read(offset uint64, dst []byte) error
	// Write copies src starting at byte offset.
	Write(offset uint64, src []byte) error
}

// Truncater is implemented by memories that can shrink. The host uses it to
// restore a memory image taken before a failed upgrade.
type Truncater interface {
	Truncate(pages uint64) error
}

// Bytes returns the size of m in bytes.
func Bytes(m Memory) uint64 {
	return m.Size() * PageSize
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n uint64) uint64 {
	return (n + PageSize - 1) / PageSize
}

// EnsureBytes grows m so that at least n bytes are addressable.
func EnsureBytes(m Memory, n uint64) error {
	need := PagesFor(n)
	if have := m.Size(); need > have {
		if _, err := m.Grow(need - have); err != nil {
			return err
		}
	}
	return nil
}

// Image copies the full contents of m.
func Image(m Memory) ([]byte, error) {
	img := make([]byte, Bytes(m))
	if len(img) == 0 {
		return img, nil
	}
	if err := m.Read(0, img); err != nil {
		return nil, errors.Wrap(err, "read memory image")
	}
	return img, nil
}

// Restore overwrites m with img. img must be a whole number of pages. If m
// is larger than img it is truncated when possible; otherwise the trailing
// pages are zeroed.
func Restore(m Memory, img []byte) error {
	if len(img)%PageSize != 0 {
		return errors.Newf("memory: image of %d bytes is not page aligned", len(img))
	}
	pages := uint64(len(img)) / PageSize
	if cur := m.Size(); cur > pages {
		if t, ok := m.(Truncater); ok {
			if err := t.Truncate(pages); err != nil {
				return errors.Wrap(err, "truncate memory")
			}
		} else {
			zero := make([]byte, (cur-pages)*PageSize)
			if err := m.Write(pages*PageSize, zero); err != nil {
				return err
			}
		}
	} else if cur < pages {
		if _, err := m.Grow(pages - cur); err != nil {
			return err
		}
	}
	if len(img) == 0 {
		return nil
	}
	return m.Write(0, img)
}

func checkBounds(size, offset uint64, n int) error {
	end := offset + uint64(n)
	if end < offset || end > size {
		return errors.Wrapf(ErrOutOfBounds, "range [%d, %d) exceeds %d bytes", offset, end, size)
	}
	return nil
}
