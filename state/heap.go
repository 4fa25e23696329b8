package state

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/internal/record"
	"github.com/hupe1980/stablestate/schema"
)

const (
	fieldHeapPerf      = 1
	fieldHeapMigration = 2
	fieldHeapMap       = 3
	fieldHeapCounts    = 4

	fieldMigSource    = 1
	fieldMigTarget    = 2
	fieldMigCursor    = 3
	fieldMigExhausted = 4
)

// heapImage is the decoded content of the heap partition.
type heapImage struct {
	perf      []byte
	counts    []byte
	snapshot  []byte
	migration *accounts.MigrationStatus
}

func (s *State) encodeHeap() ([]byte, error) {
	aux, err := s.perf.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var snapshot []byte
	m, ok := s.store.Authoritative().(*accounts.MapDB)
	if !ok {
		m, ok = s.store.Target().(*accounts.MapDB)
	}
	if ok {
		if snapshot, err = m.MarshalBinary(); err != nil {
			return nil, err
		}
	}

	e := record.NewEncoder(len(aux) + len(snapshot) + 64)
	e.Bytes(fieldHeapPerf, aux)
	if st, migrating := s.store.MigrationStatus(); migrating {
		e.Message(fieldHeapMigration, func(e *record.Encoder) {
			e.Varint(fieldMigSource, uint64(st.Source))
			e.Varint(fieldMigTarget, uint64(st.Target))
			if st.Cursor != nil {
				e.Bytes(fieldMigCursor, st.Cursor[:])
			}
			e.Bool(fieldMigExhausted, st.Exhausted)
		})
	}
	if ok {
		e.Bytes(fieldHeapMap, snapshot)
	}
	e.Bytes(fieldHeapCounts, accounts.MarshalCounts(s.store.Counts()))
	return record.Seal(heapMagic, blobVersion, e.Result()), nil
}

func decodeHeap(blob []byte) (*heapImage, error) {
	version, payload, err := record.Open(blob, heapMagic)
	if err != nil {
		return nil, fmt.Errorf("%w: open heap blob: %w", ErrCorruptBlob, err)
	}
	if version != blobVersion {
		return nil, errors.Wrapf(ErrCorruptBlob, "heap blob version %d", version)
	}

	img := &heapImage{}
	err = record.Fields(payload, func(f record.Field) error {
		switch f.Num {
		case fieldHeapPerf:
			img.perf = f.Bytes
		case fieldHeapMap:
			img.snapshot = f.Bytes
		case fieldHeapCounts:
			img.counts = f.Bytes
		case fieldHeapMigration:
			st, err := decodeMigration(f.Bytes)
			if err != nil {
				return err
			}
			img.migration = st
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode heap blob: %w", ErrCorruptBlob, err)
	}
	return img, nil
}

func decodeMigration(b []byte) (*accounts.MigrationStatus, error) {
	st := &accounts.MigrationStatus{}
	var source, target uint64
	err := record.Fields(b, func(f record.Field) error {
		switch f.Num {
		case fieldMigSource:
			source = f.Varint
		case fieldMigTarget:
			target = f.Varint
		case fieldMigCursor:
			k, err := accounts.KeyFromBytes(f.Bytes)
			if err != nil {
				return err
			}
			st.Cursor = &k
		case fieldMigExhausted:
			st.Exhausted = f.Bool()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if st.Source, err = schema.Parse(uint32(source)); err != nil {
		return nil, err
	}
	if st.Target, err = schema.Parse(uint32(target)); err != nil {
		return nil, err
	}
	return st, nil
}
