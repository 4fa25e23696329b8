package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelCodec(t *testing.T) {
	for _, l := range All() {
		rec := EncodeLabel(l)
		got, ok, err := DecodeLabel(rec[:])
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, l, got)
	}
}

func TestDecodeLabel_Unlabeled(t *testing.T) {
	_, ok, err := DecodeLabel(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = DecodeLabel(make([]byte, LabelSize))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeLabel_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		rec  []byte
		want error
	}{
		{"short", []byte{'S', 'C'}, ErrCorruptLabel},
		{"bad magic", []byte{'X', 'C', 'H', 'M', 1, 0, 0, 0}, ErrCorruptLabel},
		{"magic only garbage", []byte{0, 0, 0, 1, 0, 0, 0, 0}, ErrCorruptLabel},
		{"unknown value", []byte{'S', 'C', 'H', 'M', 7, 0, 0, 0}, ErrUnknownLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeLabel(tt.rec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse(t *testing.T) {
	l, err := Parse(1)
	require.NoError(t, err)
	assert.Equal(t, PartitionedStable, l)
	assert.Equal(t, "PartitionedStable", l.String())

	_, err = Parse(2)
	assert.ErrorIs(t, err, ErrUnknownLabel)
	assert.False(t, Label(2).Valid())
	assert.Equal(t, "Label(2)", Label(2).String())

	l, err = ParseName("flat")
	require.NoError(t, err)
	assert.Equal(t, FlatSerialized, l)
	_, err = ParseName("columnar")
	assert.ErrorIs(t, err, ErrUnknownLabel)

	assert.True(t, Newer(PartitionedStable, FlatSerialized))
	assert.False(t, Newer(FlatSerialized, FlatSerialized))
}

type fakeLabels struct {
	label Label
	set   bool
	err   error
}

func (f *fakeLabels) SchemaLabel() (Label, bool, error) { return f.label, f.set, f.err }

func (f *fakeLabels) SetSchemaLabel(l Label) error {
	f.label, f.set = l, true
	return nil
}

func (f *fakeLabels) ClearSchemaLabel() error {
	f.label, f.set = 0, false
	return nil
}

func TestRegistry_Authoritative(t *testing.T) {
	r := NewRegistry()

	l, err := r.Authoritative(nil)
	require.NoError(t, err)
	assert.Equal(t, FlatSerialized, l)

	src := &fakeLabels{}
	l, err = r.Authoritative(src)
	require.NoError(t, err)
	assert.Equal(t, FlatSerialized, l)

	src.label, src.set = PartitionedStable, true
	l, err = r.Authoritative(src)
	require.NoError(t, err)
	assert.Equal(t, PartitionedStable, l)

	src.err = ErrCorruptLabel
	_, err = r.Authoritative(src)
	assert.ErrorIs(t, err, ErrCorruptLabel)
}

func TestRegistry_Commit(t *testing.T) {
	r := NewRegistry()
	dst := &fakeLabels{}

	require.NoError(t, r.Commit(dst, PartitionedStable))
	assert.True(t, dst.set)
	assert.Equal(t, PartitionedStable, dst.label)

	require.NoError(t, r.Commit(dst, FlatSerialized))
	assert.False(t, dst.set)

	assert.ErrorIs(t, r.Commit(dst, Label(9)), ErrUnknownLabel)
	assert.NoError(t, r.Commit(nil, FlatSerialized))
	assert.Error(t, r.Commit(nil, PartitionedStable))
}
