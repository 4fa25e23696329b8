package blobstore

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// BlobStore stores immutable named blobs. Implementations must be safe for
// concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes a blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored blob.
type Blob interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// ReadAll reads the whole blob.
func ReadAll(ctx context.Context, b Blob) ([]byte, error) {
	buf := make([]byte, b.Size())
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n != len(buf) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "read %d of %d bytes", n, len(buf))
	}
	return buf, nil
}

// Get opens name in s and reads it completely.
func Get(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	return ReadAll(ctx, b)
}

// bytesBlob serves a blob that is already fully in memory.
type bytesBlob struct {
	data []byte
}

func (b *bytesBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *bytesBlob) Close() error { return nil }

func (b *bytesBlob) Size() int64 { return int64(len(b.data)) }

// NewBytesBlob wraps data as a Blob. The slice must not be modified afterwards.
func NewBytesBlob(data []byte) Blob {
	return &bytesBlob{data: data}
}
