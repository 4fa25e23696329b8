package archive

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/stablestate/internal/record"
)

const (
	// CurrentName holds the manifest name of the latest archive.
	CurrentName = "CURRENT"

	manifestPrefix  = "ARCHIVE-"
	manifestVersion = 1
)

var manifestMagic = record.Magic{'S', 'A', 'R', 'C'}

// ManifestName returns the blob name of archive id.
func ManifestName(id uint64) string {
	return fmt.Sprintf("%s%06d.bin", manifestPrefix, id)
}

func chunkPrefix(id uint64) string {
	return fmt.Sprintf("chunks/%06d/", id)
}

func chunkName(id uint64, index int) string {
	return fmt.Sprintf("%s%06d", chunkPrefix(id), index)
}

// parseManifestName returns the id encoded in a manifest blob name.
func parseManifestName(name string) (uint64, bool) {
	digits, ok := strings.CutPrefix(name, manifestPrefix)
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, ".bin")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Manifest describes one archived memory image.
type Manifest struct {
	ID          uint64
	CreatedAt   time.Time
	ImageSize   uint64
	ChunkSize   uint32
	Compression Compression
	// Checksum is the CRC32C of the whole image.
	Checksum uint32
	Chunks   []Chunk
}

// Chunk describes one slice of the image. Zero chunks have no blob.
type Chunk struct {
	Name        string
	Offset      uint64
	RawSize     uint32
	StoredSize  uint32
	Compression Compression
	// Checksum is the CRC32C of the raw bytes.
	Checksum uint32
}

// Zero reports whether the chunk is all zero bytes and was not uploaded.
func (c Chunk) Zero() bool { return c.Name == "" }

// StoredBytes sums the uploaded bytes.
func (m *Manifest) StoredBytes() uint64 {
	var n uint64
	for _, c := range m.Chunks {
		n += uint64(c.StoredSize)
	}
	return n
}

// MarshalBinary encodes the manifest in a checksummed envelope.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	pb := newPayloadBuffer(make([]byte, 0, 48+len(m.Chunks)*48))

	pb.writeUint64(m.ID)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint64(m.ImageSize)
	pb.writeUint32(m.ChunkSize)
	pb.writeUint8(uint8(m.Compression))
	pb.writeUint32(m.Checksum)
	pb.writeUint32(uint32(len(m.Chunks)))
	for _, c := range m.Chunks {
		pb.writeString(c.Name)
		pb.writeUint64(c.Offset)
		pb.writeUint32(c.RawSize)
		pb.writeUint32(c.StoredSize)
		pb.writeUint8(uint8(c.Compression))
		pb.writeUint32(c.Checksum)
	}
	if pb.err != nil {
		return nil, pb.err
	}
	return record.Seal(manifestMagic, manifestVersion, pb.buf), nil
}

// UnmarshalManifest decodes and verifies a manifest.
func UnmarshalManifest(b []byte) (*Manifest, error) {
	version, payload, err := record.Open(b, manifestMagic)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest envelope: %w", ErrCorrupt, err)
	}
	if version != manifestVersion {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported manifest version %d", version)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{}
	m.ID = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.ImageSize = pb.readUint64()
	m.ChunkSize = pb.readUint32()
	m.Compression = Compression(pb.readUint8())
	m.Checksum = pb.readUint32()

	n := pb.readUint32()
	// Each chunk takes at least 23 bytes, which bounds n before allocating.
	if pb.err == nil && uint64(n)*23 > uint64(len(payload)) {
		return nil, errors.Wrapf(ErrCorrupt, "manifest claims %d chunks", n)
	}
	m.Chunks = make([]Chunk, n)
	for i := range m.Chunks {
		c := &m.Chunks[i]
		c.Name = pb.readString()
		c.Offset = pb.readUint64()
		c.RawSize = pb.readUint32()
		c.StoredSize = pb.readUint32()
		c.Compression = Compression(pb.readUint8())
		c.Checksum = pb.readUint32()
	}
	if pb.err != nil {
		return nil, fmt.Errorf("%w: manifest payload: %w", ErrCorrupt, pb.err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// validate checks that the chunks tile the image.
func (m *Manifest) validate() error {
	var off uint64
	for i, c := range m.Chunks {
		if c.Offset != off {
			return errors.Wrapf(ErrCorrupt, "chunk %d starts at %d, want %d", i, c.Offset, off)
		}
		off += uint64(c.RawSize)
	}
	if off != m.ImageSize {
		return errors.Wrapf(ErrCorrupt, "chunks cover %d bytes of a %d byte image", off, m.ImageSize)
	}
	return nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeUint8(v uint8) {
	p.buf = append(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = errors.Newf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) need(n int) bool {
	if p.err != nil {
		return false
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (p *payloadBuffer) readUint64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readUint8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *payloadBuffer) readString() string {
	if !p.need(2) {
		return ""
	}
	l := int(binary.LittleEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2
	if !p.need(l) {
		return ""
	}
	s := string(p.buf[p.pos : p.pos+l])
	p.pos += l
	return s
}
