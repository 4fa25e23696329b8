package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Label identifies a storage layout.
type Label uint32

const (
	// FlatSerialized keeps the dataset in an ordered map on the heap and
	// serializes it wholesale at every upgrade.
	FlatSerialized Label = 0
	// PartitionedStable keeps the dataset in its own partition, persisted
	// incrementally on every write.
	PartitionedStable Label = 1
)

// LabelSize is the width of the persisted label record.
const LabelSize = 8

var labelMagic = [4]byte{'S', 'C', 'H', 'M'}

var (
	// ErrUnknownLabel is returned for a label value no layout is registered for.
	ErrUnknownLabel = errors.New("schema: unknown label")
	// ErrCorruptLabel is returned when a label record is present but malformed.
	ErrCorruptLabel = errors.New("schema: corrupt label")
)

// All returns every known label, oldest first.
func All() []Label {
	return []Label{FlatSerialized, PartitionedStable}
}

// Parse validates a raw label value.
func Parse(v uint32) (Label, error) {
	switch l := Label(v); l {
	case FlatSerialized, PartitionedStable:
		return l, nil
	default:
		return 0, errors.Wrapf(ErrUnknownLabel, "value %d", v)
	}
}

// ParseName maps a label name, as printed by String, back to its Label.
// The short forms "flat" and "partitioned" are accepted too.
func ParseName(s string) (Label, error) {
	switch s {
	case "FlatSerialized", "flat":
		return FlatSerialized, nil
	case "PartitionedStable", "partitioned":
		return PartitionedStable, nil
	default:
		return 0, errors.Wrapf(ErrUnknownLabel, "name %q", s)
	}
}

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	_, err := Parse(uint32(l))
	return err == nil
}

func (l Label) String() string {
	switch l {
	case FlatSerialized:
		return "FlatSerialized"
	case PartitionedStable:
		return "PartitionedStable"
	default:
		return fmt.Sprintf("Label(%d)", uint32(l))
	}
}

// Newer reports whether a is a later layout than b.
func Newer(a, b Label) bool {
	return a > b
}

// EncodeLabel returns the fixed-width record for l.
func EncodeLabel(l Label) [LabelSize]byte {
	var b [LabelSize]byte
	copy(b[:4], labelMagic[:])
	binary.LittleEndian.PutUint32(b[4:], uint32(l))
	return b
}

// DecodeLabel parses a label record. ok is false when the record is empty
// or all zero. A record with the wrong magic or an unknown value is an error.
func DecodeLabel(b []byte) (l Label, ok bool, err error) {
	if len(b) == 0 {
		return 0, false, nil
	}
	if len(b) < LabelSize {
		return 0, false, errors.Wrapf(ErrCorruptLabel, "record of %d bytes", len(b))
	}
	b = b[:LabelSize]
	if isZero(b) {
		return 0, false, nil
	}
	if !bytes.Equal(b[:4], labelMagic[:]) {
		return 0, false, errors.Wrapf(ErrCorruptLabel, "bad magic %x", b[:4])
	}
	l, err = Parse(binary.LittleEndian.Uint32(b[4:]))
	if err != nil {
		return 0, false, err
	}
	return l, true, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
