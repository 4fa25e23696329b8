package state

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/internal/record"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/perf"
)

var (
	legacyMagic = record.Magic{'S', 'F', 'L', 'T'}
	heapMagic   = record.Magic{'S', 'H', 'E', 'P'}
)

const blobVersion = 1

const (
	fieldDataset   = 1
	fieldAuxiliary = 2

	fieldDatasetMap    = 1
	fieldDatasetCounts = 2
)

// EncodeLegacy serializes the flat layout: the account map with its counts
// as the dataset half and the performance counts as the auxiliary half.
func EncodeLegacy(m *accounts.MapDB, counts accounts.Counts, pc *perf.Counts) ([]byte, error) {
	snapshot, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	aux, err := pc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	e := record.NewEncoder(len(snapshot) + len(aux) + 32)
	e.Message(fieldDataset, func(e *record.Encoder) {
		e.Bytes(fieldDatasetMap, snapshot)
		e.Bytes(fieldDatasetCounts, accounts.MarshalCounts(counts))
	})
	e.Bytes(fieldAuxiliary, aux)
	return record.Seal(legacyMagic, blobVersion, e.Result()), nil
}

// DecodeLegacy parses a blob written by EncodeLegacy. A damaged dataset is
// an error; damaged performance counts are logged and replaced by empty
// ones.
func DecodeLegacy(b []byte, logger *slog.Logger) (*accounts.Store, *perf.Counts, error) {
	version, payload, err := record.Open(b, legacyMagic)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open legacy blob: %w", ErrCorruptBlob, err)
	}
	if version != blobVersion {
		return nil, nil, errors.Wrapf(ErrCorruptBlob, "legacy blob version %d", version)
	}

	var (
		dataset, aux []byte
		hasDataset   bool
	)
	if err := record.Fields(payload, func(f record.Field) error {
		switch f.Num {
		case fieldDataset:
			dataset, hasDataset = f.Bytes, true
		case fieldAuxiliary:
			aux = f.Bytes
		}
		return nil
	}); err != nil {
		return nil, nil, fmt.Errorf("%w: decode legacy blob: %w", ErrCorruptBlob, err)
	}
	if !hasDataset {
		return nil, nil, errors.Wrap(ErrCorruptBlob, "legacy blob without dataset")
	}

	store, err := decodeDataset(dataset, logger)
	if err != nil {
		return nil, nil, err
	}
	pc, err := perf.UnmarshalLenient(aux)
	if err != nil {
		logger.Warn("discarding unreadable performance counts", "error", err)
	}
	return store, pc, nil
}

func decodeDataset(b []byte, logger *slog.Logger) (*accounts.Store, error) {
	var snapshot, rawCounts []byte
	if err := record.Fields(b, func(f record.Field) error {
		switch f.Num {
		case fieldDatasetMap:
			snapshot = f.Bytes
		case fieldDatasetCounts:
			rawCounts = f.Bytes
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: decode dataset: %w", ErrCorruptBlob, err)
	}
	m, err := accounts.UnmarshalMapDB(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}
	return accounts.RestoreStore(m, decodeCounts(rawCounts, logger))
}

func decodeCounts(b []byte, logger *slog.Logger) *accounts.Counts {
	if b == nil {
		return nil
	}
	c, err := accounts.UnmarshalCounts(b)
	if err != nil {
		logger.Warn("recounting accounts after unreadable statistics", "error", err)
		return nil
	}
	return &c
}

// blank reports whether raw holds neither a blob nor a partition header.
func blank(raw memory.Memory) (bool, error) {
	if raw.Size() == 0 {
		return true, nil
	}
	hdr := make([]byte, record.HeaderSize)
	if err := raw.Read(0, hdr); err != nil {
		return false, err
	}
	for _, c := range hdr {
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

// readBlob reads a sealed blob starting at offset 0 of mem.
func readBlob(mem memory.Memory, magic record.Magic) ([]byte, error) {
	hdr := make([]byte, record.HeaderSize)
	if memory.Bytes(mem) < record.HeaderSize {
		return nil, errors.Wrapf(ErrCorruptBlob, "memory of %d bytes cannot hold a blob", memory.Bytes(mem))
	}
	if err := mem.Read(0, hdr); err != nil {
		return nil, err
	}
	h, err := record.ParseHeader(hdr, magic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
	}
	if h.Length > memory.Bytes(mem)-record.HeaderSize {
		return nil, errors.Wrapf(ErrCorruptBlob, "blob of %d bytes exceeds memory", h.Length)
	}
	blob := make([]byte, record.HeaderSize+int(h.Length))
	if err := mem.Read(0, blob); err != nil {
		return nil, err
	}
	return blob, nil
}

func writeBlob(mem memory.Memory, blob []byte) error {
	if err := memory.EnsureBytes(mem, uint64(len(blob))); err != nil {
		return errors.Wrap(err, "grow memory for blob")
	}
	return mem.Write(0, blob)
}
