package accounts

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/hupe1980/stablestate/internal/record"
	"github.com/hupe1980/stablestate/schema"
)

const btreeDegree = 32

type mapItem struct {
	key Key
	acc Account
}

func lessMapItem(a, b mapItem) bool {
	return a.key.Less(b.key)
}

// MapDB keeps the dataset in an in-heap B-tree.
type MapDB struct {
	tree *btree.BTreeG[mapItem]
}

var _ DB = (*MapDB)(nil)

// NewMapDB returns an empty map.
func NewMapDB() *MapDB {
	return &MapDB{tree: btree.NewG(btreeDegree, lessMapItem)}
}

// Schema implements DB.
func (m *MapDB) Schema() schema.Label {
	return schema.FlatSerialized
}

// Get implements DB.
func (m *MapDB) Get(key Key) (Account, bool, error) {
	it, ok := m.tree.Get(mapItem{key: key})
	if !ok {
		return Account{}, false, nil
	}
	return it.acc.Clone(), true, nil
}

// Put implements DB.
func (m *MapDB) Put(key Key, a Account) error {
	m.tree.ReplaceOrInsert(mapItem{key: key, acc: a.Clone()})
	return nil
}

// Delete implements DB.
func (m *MapDB) Delete(key Key) (bool, error) {
	_, ok := m.tree.Delete(mapItem{key: key})
	return ok, nil
}

// Len implements DB.
func (m *MapDB) Len() uint64 {
	return uint64(m.tree.Len())
}

// Range implements DB.
func (m *MapDB) Range(after *Key, limit int, fn func(Key, Account) error) error {
	var err error
	n := 0
	visit := func(it mapItem) bool {
		if after != nil && it.key == *after {
			return true
		}
		if limit > 0 && n >= limit {
			return false
		}
		n++
		if err = fn(it.key, it.acc.Clone()); err != nil {
			return false
		}
		return true
	}
	if after == nil {
		m.tree.Ascend(visit)
	} else {
		m.tree.AscendGreaterOrEqual(mapItem{key: *after}, visit)
	}
	if errors.Is(err, ErrStopRange) {
		return nil
	}
	return err
}

const (
	fieldMapEntry   = 1
	fieldEntryKey   = 1
	fieldEntryValue = 2
)

// MarshalBinary serializes the whole map.
func (m *MapDB) MarshalBinary() ([]byte, error) {
	e := record.NewEncoder(m.tree.Len() * 96)
	m.tree.Ascend(func(it mapItem) bool {
		e.Message(fieldMapEntry, func(e *record.Encoder) {
			e.Bytes(fieldEntryKey, it.key[:])
			e.Bytes(fieldEntryValue, MarshalAccount(it.acc))
		})
		return true
	})
	return e.Result(), nil
}

// UnmarshalMapDB rebuilds a map serialized by MarshalBinary.
func UnmarshalMapDB(b []byte) (*MapDB, error) {
	m := NewMapDB()
	err := record.Fields(b, func(f record.Field) error {
		if f.Num != fieldMapEntry {
			return nil
		}
		var (
			key    Key
			value  []byte
			hasKey bool
		)
		if err := record.Fields(f.Bytes, func(f record.Field) error {
			switch f.Num {
			case fieldEntryKey:
				k, err := KeyFromBytes(f.Bytes)
				if err != nil {
					return err
				}
				key, hasKey = k, true
			case fieldEntryValue:
				value = f.Bytes
			}
			return nil
		}); err != nil {
			return err
		}
		if !hasKey {
			return errors.Wrap(ErrCorruptRecord, "map entry without key")
		}
		acc, err := UnmarshalAccount(value)
		if err != nil {
			return err
		}
		if _, dup := m.tree.ReplaceOrInsert(mapItem{key: key, acc: acc}); dup {
			return errors.Wrapf(ErrCorruptRecord, "duplicate key %s", key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode account map: %w", ErrCorruptRecord, err)
	}
	return m, nil
}
