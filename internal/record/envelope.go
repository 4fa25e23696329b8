package record

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/internal/hash"
)

// HeaderSize is the size of an envelope header in bytes.
const HeaderSize = 20

var (
	// ErrBadMagic is returned when an envelope does not start with the expected magic.
	ErrBadMagic = errors.New("record: bad magic")
	// ErrChecksumMismatch is returned when the payload does not match the header checksum.
	ErrChecksumMismatch = errors.New("record: checksum mismatch")
	// ErrTruncated is returned when fewer bytes than announced are available.
	ErrTruncated = errors.New("record: truncated")
)

// Magic identifies the kind of blob inside an envelope.
type Magic [4]byte

// Header is a parsed envelope header.
type Header struct {
	Magic    Magic
	Version  uint32
	Checksum uint32
	Length   uint64
}

// Seal frames payload into an envelope.
func Seal(magic Magic, version uint32, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	copy(out[0:4], magic[:])
	binary.LittleEndian.PutUint32(out[4:8], version)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint64(out[12:20], uint64(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// HasMagic reports whether b starts with magic.
func HasMagic(b []byte, magic Magic) bool {
	return len(b) >= 4 && Magic(b[0:4]) == magic
}

// ParseHeader parses the first HeaderSize bytes of b.
func ParseHeader(b []byte, magic Magic) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Wrapf(ErrTruncated, "header needs %d bytes, have %d", HeaderSize, len(b))
	}
	if !HasMagic(b, magic) {
		return Header{}, errors.Wrapf(ErrBadMagic, "want %q, got %q", magic[:], b[0:4])
	}
	return Header{
		Magic:    magic,
		Version:  binary.LittleEndian.Uint32(b[4:8]),
		Checksum: binary.LittleEndian.Uint32(b[8:12]),
		Length:   binary.LittleEndian.Uint64(b[12:20]),
	}, nil
}

// Verify checks payload against the header.
func (h Header) Verify(payload []byte) error {
	if uint64(len(payload)) != h.Length {
		return errors.Wrapf(ErrTruncated, "payload has %d bytes, header says %d", len(payload), h.Length)
	}
	if sum := hash.CRC32C(payload); sum != h.Checksum {
		return errors.Wrapf(ErrChecksumMismatch, "want %08x, got %08x", h.Checksum, sum)
	}
	return nil
}

// Open parses a complete envelope held in b and returns its version and payload.
func Open(b []byte, magic Magic) (uint32, []byte, error) {
	h, err := ParseHeader(b, magic)
	if err != nil {
		return 0, nil, err
	}
	rest := b[HeaderSize:]
	if uint64(len(rest)) < h.Length {
		return 0, nil, errors.Wrapf(ErrTruncated, "payload has %d bytes, header says %d", len(rest), h.Length)
	}
	payload := rest[:h.Length]
	if err := h.Verify(payload); err != nil {
		return 0, nil, err
	}
	return h.Version, payload, nil
}
