package partition

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/memory"
)

// VirtualMemory is one partition seen as a contiguous memory.
type VirtualMemory struct {
	parts *Partitions
	id    ID
}

var _ memory.Memory = (*VirtualMemory)(nil)

// ID returns the partition ID.
func (vm *VirtualMemory) ID() ID {
	return vm.id
}

// Size returns the partition size in pages.
func (vm *VirtualMemory) Size() uint64 {
	return vm.parts.sizes[vm.id]
}

// Grow extends the partition, claiming buckets as needed.
func (vm *VirtualMemory) Grow(pages uint64) (uint64, error) {
	p := vm.parts
	prev := p.sizes[vm.id]
	want := prev + pages
	for p.buckets[vm.id].GetCardinality()*p.bucketPages < want {
		if err := p.claim(vm.id); err != nil {
			return prev, fmt.Errorf("%w: grow partition %d: %w", memory.ErrGrowFailed, vm.id, err)
		}
	}
	if err := p.setSize(vm.id, want); err != nil {
		return prev, err
	}
	return prev, nil
}

// Read fills dst from the partition starting at offset.
func (vm *VirtualMemory) Read(offset uint64, dst []byte) error {
	return vm.each(offset, len(dst), func(phys uint64, lo, hi int) error {
		return vm.parts.raw.Read(phys, dst[lo:hi])
	})
}

// Write copies src into the partition starting at offset.
func (vm *VirtualMemory) Write(offset uint64, src []byte) error {
	return vm.each(offset, len(src), func(phys uint64, lo, hi int) error {
		return vm.parts.raw.Write(phys, src[lo:hi])
	})
}

// each splits [offset, offset+n) at bucket boundaries and calls fn with
// the physical address of every piece.
func (vm *VirtualMemory) each(offset uint64, n int, fn func(phys uint64, lo, hi int) error) error {
	p := vm.parts
	size := p.sizes[vm.id] * memory.PageSize
	end := offset + uint64(n)
	if end < offset || end > size {
		return errors.Wrapf(memory.ErrOutOfBounds, "partition %d range [%d, %d) exceeds %d bytes", vm.id, offset, end, size)
	}

	bb := p.bucketBytes()
	done := 0
	for done < n {
		virt := offset + uint64(done)
		nth := virt / bb
		within := virt % bb
		bucket, err := p.buckets[vm.id].Select(uint32(nth))
		if err != nil {
			return errors.Wrapf(ErrCorruptHeader, "partition %d has no bucket %d", vm.id, nth)
		}
		chunk := int(min(bb-within, uint64(n-done)))
		if err := fn(p.bucketOffset(bucket)+within, done, done+chunk); err != nil {
			return err
		}
		done += chunk
	}
	return nil
}
