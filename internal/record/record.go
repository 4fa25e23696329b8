package record

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a record cannot be parsed.
var ErrMalformed = errors.New("record: malformed")

// Encoder appends protobuf wire format fields to a buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with the given capacity hint.
func NewEncoder(capHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capHint)}
}

// Varint writes an unsigned varint field.
func (e *Encoder) Varint(num protowire.Number, v uint64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

// Bool writes a boolean field.
func (e *Encoder) Bool(num protowire.Number, v bool) {
	e.Varint(num, protowire.EncodeBool(v))
}

// Bytes writes a length-delimited field.
func (e *Encoder) Bytes(num protowire.Number, v []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

// String writes a string field.
func (e *Encoder) String(num protowire.Number, v string) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

// Message writes a nested record built by fn.
func (e *Encoder) Message(num protowire.Number, fn func(*Encoder)) {
	sub := NewEncoder(64)
	fn(sub)
	e.Bytes(num, sub.buf)
}

// Result returns the encoded record.
func (e *Encoder) Result() []byte {
	return e.buf
}

// Field is one decoded field. Varint is set for varint fields, Bytes for
// length-delimited ones.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// Bool interprets a varint field as a boolean.
func (f Field) Bool() bool {
	return protowire.DecodeBool(f.Varint)
}

// String interprets a length-delimited field as a string.
func (f Field) String() string {
	return string(f.Bytes)
}

// Fields calls fn for every field in b in wire order. Fields of other wire
// types are skipped.
func Fields(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %s", num, protowire.ParseError(m))
			}
			f.Varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %s", num, protowire.ParseError(m))
			}
			f.Bytes = v
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %s", num, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
