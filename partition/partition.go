package partition

import (
	"bytes"
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/schema"
)

// ID names a partition. IDs are fixed constants shared by every consumer.
type ID uint8

const (
	// MetadataID holds the schema label.
	MetadataID ID = 0
	// HeapID holds the flat-encoded auxiliary state.
	HeapID ID = 1
	// AccountsID holds the incrementally persisted dataset.
	AccountsID ID = 2

	// Unallocated marks a free bucket and is never a valid ID.
	Unallocated ID = 255
)

const (
	// Version is the header layout version.
	Version = 1
	// MaxBuckets is the number of entries in the bucket table.
	MaxBuckets = 32768
	// DefaultBucketPages is the bucket size used unless overridden.
	DefaultBucketPages = 128

	offBucketCount = 4
	offBucketPages = 6
	offSizes       = 40
	offBucketTable = offSizes + 8*int(Unallocated)
	headerBytes    = offBucketTable + MaxBuckets
)

var headerMagic = [3]byte{'S', 'P', 'M'}

var (
	// ErrNotPartitioned is returned by TryFromMemory when raw memory carries
	// no partition header.
	ErrNotPartitioned = errors.New("partition: memory is not partitioned")
	// ErrCorruptHeader is returned when a partition header is present but
	// inconsistent.
	ErrCorruptHeader = errors.New("partition: corrupt header")
	// ErrInvalidID is returned for the reserved ID.
	ErrInvalidID = errors.New("partition: invalid id")
	// ErrOutOfBuckets is returned when the bucket table is full.
	ErrOutOfBuckets = errors.New("partition: out of buckets")
)

// Option configures New.
type Option func(*options)

type options struct {
	bucketPages uint16
}

// WithBucketPages sets the bucket size in pages. Small values exercise
// multi-bucket growth in tests.
func WithBucketPages(pages uint16) Option {
	return func(o *options) {
		if pages > 0 {
			o.bucketPages = pages
		}
	}
}

// Partitions manages the header and the virtual memories of one raw memory.
// It is not safe for concurrent use.
type Partitions struct {
	raw         memory.Memory
	bucketPages uint64
	sizes       [Unallocated]uint64
	buckets     [Unallocated]*roaring.Bitmap
	allocated   uint16
	handles     map[ID]*VirtualMemory
}

var (
	_ schema.LabelSource = (*Partitions)(nil)
	_ schema.LabelSink   = (*Partitions)(nil)
)

// New writes a fresh header to raw. Whatever raw held before is no longer
// reachable through the partitions.
func New(raw memory.Memory, optFns ...Option) (*Partitions, error) {
	o := options{bucketPages: DefaultBucketPages}
	for _, fn := range optFns {
		fn(&o)
	}

	if err := memory.EnsureBytes(raw, memory.PageSize); err != nil {
		return nil, errors.Wrap(err, "reserve partition header")
	}

	p := newPartitions(raw, uint64(o.bucketPages))
	hdr := make([]byte, headerBytes)
	copy(hdr, headerMagic[:])
	hdr[3] = Version
	binary.LittleEndian.PutUint16(hdr[offBucketPages:], o.bucketPages)
	for i := offBucketTable; i < headerBytes; i++ {
		hdr[i] = byte(Unallocated)
	}
	if err := raw.Write(0, hdr); err != nil {
		return nil, errors.Wrap(err, "write partition header")
	}
	return p, nil
}

// NewForSchema is New followed by recording label in the metadata partition.
// The oldest layout is implied by an absent label and is not written.
func NewForSchema(raw memory.Memory, label schema.Label, optFns ...Option) (*Partitions, error) {
	if !label.Valid() {
		return nil, errors.Wrapf(schema.ErrUnknownLabel, "%s", label)
	}
	p, err := New(raw, optFns...)
	if err != nil {
		return nil, err
	}
	if label != schema.FlatSerialized {
		if err := p.SetSchemaLabel(label); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// TryFromMemory parses the header of raw. Memory without a header yields
// ErrNotPartitioned; a header that is present but inconsistent yields
// ErrCorruptHeader. raw is only read.
func TryFromMemory(raw memory.Memory) (*Partitions, error) {
	if raw.Size() == 0 {
		return nil, ErrNotPartitioned
	}
	hdr := make([]byte, headerBytes)
	if err := raw.Read(0, hdr); err != nil {
		return nil, errors.Wrap(err, "read partition header")
	}
	if !bytes.Equal(hdr[:3], headerMagic[:]) || hdr[3] != Version {
		return nil, ErrNotPartitioned
	}

	bucketPages := uint64(binary.LittleEndian.Uint16(hdr[offBucketPages:]))
	allocated := binary.LittleEndian.Uint16(hdr[offBucketCount:])
	if bucketPages == 0 {
		return nil, errors.Wrap(ErrCorruptHeader, "zero bucket size")
	}
	if int(allocated) > MaxBuckets {
		return nil, errors.Wrapf(ErrCorruptHeader, "%d buckets allocated", allocated)
	}
	if need := 1 + uint64(allocated)*bucketPages; raw.Size() < need {
		return nil, errors.Wrapf(ErrCorruptHeader, "memory of %d pages holds fewer than %d buckets", raw.Size(), allocated)
	}

	p := newPartitions(raw, bucketPages)
	p.allocated = allocated
	for i := 0; i < MaxBuckets; i++ {
		owner := ID(hdr[offBucketTable+i])
		if i >= int(allocated) {
			if owner != Unallocated {
				return nil, errors.Wrapf(ErrCorruptHeader, "bucket %d beyond allocation owned by %d", i, owner)
			}
			continue
		}
		if owner == Unallocated {
			return nil, errors.Wrapf(ErrCorruptHeader, "allocated bucket %d has no owner", i)
		}
		p.buckets[owner].Add(uint32(i))
	}
	for id := 0; id < int(Unallocated); id++ {
		size := binary.LittleEndian.Uint64(hdr[offSizes+8*id:])
		if size > p.buckets[id].GetCardinality()*bucketPages {
			return nil, errors.Wrapf(ErrCorruptHeader, "partition %d size %d exceeds its buckets", id, size)
		}
		p.sizes[id] = size
	}
	return p, nil
}

func newPartitions(raw memory.Memory, bucketPages uint64) *Partitions {
	p := &Partitions{
		raw:         raw,
		bucketPages: bucketPages,
		handles:     make(map[ID]*VirtualMemory),
	}
	for i := range p.buckets {
		p.buckets[i] = roaring.New()
	}
	return p
}

// Raw returns the underlying memory.
func (p *Partitions) Raw() memory.Memory {
	return p.raw
}

// BucketPages returns the bucket size in pages.
func (p *Partitions) BucketPages() uint64 {
	return p.bucketPages
}

// AllocatedBuckets returns the number of claimed buckets.
func (p *Partitions) AllocatedBuckets() int {
	return int(p.allocated)
}

// Sizes returns the size in pages of every partition that has grown.
func (p *Partitions) Sizes() map[ID]uint64 {
	out := make(map[ID]uint64)
	for id, size := range p.sizes {
		if size > 0 {
			out[ID(id)] = size
		}
	}
	return out
}

// Get returns the virtual memory of id. Repeated calls return the same handle.
func (p *Partitions) Get(id ID) (*VirtualMemory, error) {
	if id == Unallocated {
		return nil, ErrInvalidID
	}
	if vm, ok := p.handles[id]; ok {
		return vm, nil
	}
	vm := &VirtualMemory{parts: p, id: id}
	p.handles[id] = vm
	return vm, nil
}

// MustGet is Get for the fixed IDs, which are always valid.
func (p *Partitions) MustGet(id ID) *VirtualMemory {
	vm, err := p.Get(id)
	if err != nil {
		panic(err)
	}
	return vm
}

// SchemaLabel reads the label from the metadata partition.
func (p *Partitions) SchemaLabel() (schema.Label, bool, error) {
	meta := p.MustGet(MetadataID)
	if meta.Size() == 0 {
		return 0, false, nil
	}
	rec := make([]byte, schema.LabelSize)
	if err := meta.Read(0, rec); err != nil {
		return 0, false, err
	}
	return schema.DecodeLabel(rec)
}

// SetSchemaLabel writes label to the metadata partition.
func (p *Partitions) SetSchemaLabel(label schema.Label) error {
	if !label.Valid() {
		return errors.Wrapf(schema.ErrUnknownLabel, "%s", label)
	}
	meta := p.MustGet(MetadataID)
	if err := memory.EnsureBytes(meta, schema.LabelSize); err != nil {
		return err
	}
	rec := schema.EncodeLabel(label)
	return meta.Write(0, rec[:])
}

// ClearSchemaLabel zeroes the label record.
func (p *Partitions) ClearSchemaLabel() error {
	meta := p.MustGet(MetadataID)
	if meta.Size() == 0 {
		return nil
	}
	return meta.Write(0, make([]byte, schema.LabelSize))
}

func (p *Partitions) bucketBytes() uint64 {
	return p.bucketPages * memory.PageSize
}

func (p *Partitions) bucketOffset(bucket uint32) uint64 {
	return memory.PageSize * (1 + uint64(bucket)*p.bucketPages)
}

// claim assigns the next free bucket to id, zeroes it and records the owner.
func (p *Partitions) claim(id ID) error {
	if int(p.allocated) >= MaxBuckets {
		return ErrOutOfBuckets
	}
	bucket := uint32(p.allocated)
	if err := memory.EnsureBytes(p.raw, p.bucketOffset(bucket)+p.bucketBytes()); err != nil {
		return err
	}

	zero := make([]byte, memory.PageSize)
	for off := uint64(0); off < p.bucketBytes(); off += memory.PageSize {
		if err := p.raw.Write(p.bucketOffset(bucket)+off, zero); err != nil {
			return err
		}
	}

	if err := p.raw.Write(uint64(offBucketTable)+uint64(bucket), []byte{byte(id)}); err != nil {
		return err
	}
	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], p.allocated+1)
	if err := p.raw.Write(offBucketCount, cnt[:]); err != nil {
		return err
	}

	p.allocated++
	p.buckets[id].Add(bucket)
	return nil
}

func (p *Partitions) setSize(id ID, pages uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], pages)
	if err := p.raw.Write(uint64(offSizes)+8*uint64(id), b[:]); err != nil {
		return err
	}
	p.sizes[id] = pages
	return nil
}
