package archive

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the chunk codec.
type Compression uint8

const (
	// CompressionNone stores chunks as they are.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd at the default level.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression parses "none", "lz4" or "zstd". The empty string is none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, errors.Newf("archive: unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compress returns the stored form of data and the codec actually used.
// Chunks that do not shrink by at least a tenth are kept raw.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var out []byte
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, errors.Wrap(err, "lz4 compress")
		}
		out = buf[:n]
	case CompressionZstd:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, errors.AssertionFailedf("archive: compression %d", c)
	}

	if len(out) == 0 || len(out)*10 > len(data)*9 {
		return data, CompressionNone, nil
	}
	return out, c, nil
}

// decompress expands stored into exactly rawSize bytes.
func decompress(stored []byte, c Compression, rawSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(stored) != rawSize {
			return nil, errors.Wrapf(ErrCorrupt, "raw chunk has %d bytes, want %d", len(stored), rawSize)
		}
		return stored, nil
	case CompressionLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4 decompress: %w", ErrCorrupt, err)
		}
		if n != rawSize {
			return nil, errors.Wrapf(ErrCorrupt, "lz4 chunk expanded to %d bytes, want %d", n, rawSize)
		}
		return out, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decompress: %w", ErrCorrupt, err)
		}
		if len(out) != rawSize {
			return nil, errors.Wrapf(ErrCorrupt, "zstd chunk expanded to %d bytes, want %d", len(out), rawSize)
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrCorrupt, "unknown chunk compression %d", c)
	}
}
