package accounts

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/hupe1980/stablestate/internal/cache"
	"github.com/hupe1980/stablestate/internal/hash"
	"github.com/hupe1980/stablestate/internal/record"
	"github.com/hupe1980/stablestate/internal/resource"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/schema"
)

// Log layout inside the accounts partition:
//
//	[0:4)   magic "SACC"
//	[4:8)   version
//	[8:16)  committed tail offset
//	[16:32) reserved
//	[32:tail) records of [u32 body length][u32 crc32c(body)][body]
//
// A write is visible once the tail in the header covers it.
const (
	stableVersion    = 1
	stableHeaderSize = 32
	recordPrefix     = 8

	// DefaultCacheBytes is the default size of the decoded value cache.
	DefaultCacheBytes = 1 << 20

	// DefaultCompactionFactor is the log to live data ratio past which
	// NeedsCompaction reports true.
	DefaultCompactionFactor = 4
	// compactMinBytes keeps small logs from being rewritten.
	compactMinBytes = 64 << 10
)

var stableMagic = [4]byte{'S', 'A', 'C', 'C'}

const (
	opPut    = 1
	opDelete = 2

	fieldOp       = 1
	fieldKey      = 2
	fieldLogValue = 3
)

type location struct {
	key  Key
	off  uint64
	size uint32
}

func lessLocation(a, b location) bool {
	return a.key.Less(b.key)
}

// StableDB persists the dataset as an append-only log in a memory and keeps
// a key index in the heap. The index is rebuilt when the log is opened.
// Superseded records stay in the log until Compact rewrites it.
type StableDB struct {
	mem    memory.Memory
	tail   uint64
	live   uint64
	factor uint64
	index  *btree.BTreeG[location]
	cache  *cache.LRU[uint64]
}

var _ DB = (*StableDB)(nil)

// StableOption configures OpenStableDB.
type StableOption func(*stableOptions)

type stableOptions struct {
	cacheBytes int64
	rc         *resource.Controller
	factor     uint64
}

// WithCacheBytes sets the size of the decoded value cache. 0 disables it.
func WithCacheBytes(n int64) StableOption {
	return func(o *stableOptions) {
		o.cacheBytes = n
	}
}

// WithCompactionFactor sets the log to live data ratio past which the log
// needs compaction. 0 disables compaction.
func WithCompactionFactor(f uint64) StableOption {
	return func(o *stableOptions) {
		o.factor = f
	}
}

// WithResourceController accounts cache memory against rc.
func WithResourceController(rc *resource.Controller) StableOption {
	return func(o *stableOptions) {
		o.rc = rc
	}
}

// OpenStableDB opens the log in mem, initializing an empty one if mem holds
// none. Records are checksummed; a damaged record below the committed
// tail is reported as ErrCorruptRecord.
func OpenStableDB(mem memory.Memory, optFns ...StableOption) (*StableDB, error) {
	o := stableOptions{cacheBytes: DefaultCacheBytes, factor: DefaultCompactionFactor}
	for _, fn := range optFns {
		fn(&o)
	}

	db := &StableDB{
		mem:    mem,
		factor: o.factor,
		index:  btree.NewG(btreeDegree, lessLocation),
		cache:  cache.NewLRU[uint64](o.cacheBytes, o.rc),
	}

	hdr := make([]byte, stableHeaderSize)
	if memory.Bytes(mem) >= stableHeaderSize {
		if err := mem.Read(0, hdr); err != nil {
			return nil, err
		}
	}
	if bytes.Equal(hdr, make([]byte, stableHeaderSize)) {
		if err := db.Reset(); err != nil {
			return nil, err
		}
		return db, nil
	}

	if !bytes.Equal(hdr[:4], stableMagic[:]) {
		return nil, errors.Wrapf(ErrCorruptRecord, "account log has bad magic %x", hdr[:4])
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != stableVersion {
		return nil, errors.Wrapf(ErrCorruptRecord, "account log version %d", v)
	}
	db.tail = binary.LittleEndian.Uint64(hdr[8:16])
	if db.tail < stableHeaderSize || db.tail > memory.Bytes(mem) {
		return nil, errors.Wrapf(ErrCorruptRecord, "account log tail %d out of range", db.tail)
	}
	if err := db.replay(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *StableDB) replay() error {
	var prefix [recordPrefix]byte
	for off := uint64(stableHeaderSize); off < db.tail; {
		if off+recordPrefix > db.tail {
			return errors.Wrapf(ErrCorruptRecord, "truncated record at %d", off)
		}
		if err := db.mem.Read(off, prefix[:]); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint32(prefix[0:4])
		sum := binary.LittleEndian.Uint32(prefix[4:8])
		if off+recordPrefix+uint64(n) > db.tail {
			return errors.Wrapf(ErrCorruptRecord, "record at %d overruns tail", off)
		}
		body := make([]byte, n)
		if err := db.mem.Read(off+recordPrefix, body); err != nil {
			return err
		}
		if hash.CRC32C(body) != sum {
			return errors.Wrapf(ErrCorruptRecord, "checksum mismatch at %d", off)
		}
		op, key, _, err := decodeLogBody(body)
		if err != nil {
			return errors.Wrapf(err, "record at %d", off)
		}
		switch op {
		case opPut:
			db.insert(location{key: key, off: off, size: n})
		case opDelete:
			db.remove(key)
		default:
			return errors.Wrapf(ErrCorruptRecord, "unknown op %d at %d", op, off)
		}
		off += recordPrefix + uint64(n)
	}
	return nil
}

func (l location) bytes() uint64 {
	return recordPrefix + uint64(l.size)
}

func (db *StableDB) insert(loc location) (location, bool) {
	old, ok := db.index.ReplaceOrInsert(loc)
	if ok {
		db.live -= old.bytes()
	}
	db.live += loc.bytes()
	return old, ok
}

func (db *StableDB) remove(key Key) (location, bool) {
	old, ok := db.index.Delete(location{key: key})
	if ok {
		db.live -= old.bytes()
	}
	return old, ok
}

func encodeLogBody(op uint64, key Key, value []byte) []byte {
	e := record.NewEncoder(len(value) + KeySize + 8)
	e.Varint(fieldOp, op)
	e.Bytes(fieldKey, key[:])
	if value != nil {
		e.Bytes(fieldLogValue, value)
	}
	return e.Result()
}

func decodeLogBody(body []byte) (op uint64, key Key, value []byte, err error) {
	var hasKey bool
	err = record.Fields(body, func(f record.Field) error {
		switch f.Num {
		case fieldOp:
			op = f.Varint
		case fieldKey:
			k, err := KeyFromBytes(f.Bytes)
			if err != nil {
				return err
			}
			key, hasKey = k, true
		case fieldLogValue:
			value = f.Bytes
		}
		return nil
	})
	if err != nil {
		return 0, Key{}, nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if !hasKey {
		return 0, Key{}, nil, errors.Wrap(ErrCorruptRecord, "record without key")
	}
	return op, key, value, nil
}

// Reset discards every record.
func (db *StableDB) Reset() error {
	if err := memory.EnsureBytes(db.mem, stableHeaderSize); err != nil {
		return err
	}
	hdr := make([]byte, stableHeaderSize)
	copy(hdr, stableMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], stableVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], stableHeaderSize)
	if err := db.mem.Write(0, hdr); err != nil {
		return errors.Wrap(err, "write account log header")
	}
	db.tail = stableHeaderSize
	db.live = 0
	db.index.Clear(false)
	db.cache.Purge()
	return nil
}

func (db *StableDB) append(body []byte) (uint64, error) {
	off := db.tail
	rec := make([]byte, recordPrefix+len(body))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(rec[4:8], hash.CRC32C(body))
	copy(rec[recordPrefix:], body)

	if err := memory.EnsureBytes(db.mem, off+uint64(len(rec))); err != nil {
		return 0, errors.Wrap(err, "grow account log")
	}
	if err := db.mem.Write(off, rec); err != nil {
		return 0, err
	}

	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], off+uint64(len(rec)))
	if err := db.mem.Write(8, tail[:]); err != nil {
		return 0, err
	}
	db.tail = off + uint64(len(rec))
	return off, nil
}

// Schema implements DB.
func (db *StableDB) Schema() schema.Label {
	return schema.PartitionedStable
}

// Get implements DB.
func (db *StableDB) Get(key Key) (Account, bool, error) {
	loc, ok := db.index.Get(location{key: key})
	if !ok {
		return Account{}, false, nil
	}
	acc, err := db.load(loc)
	if err != nil {
		return Account{}, false, err
	}
	return acc, true, nil
}

func (db *StableDB) load(loc location) (Account, error) {
	value, ok := db.cache.Get(loc.off)
	if !ok {
		body := make([]byte, loc.size)
		if err := db.mem.Read(loc.off+recordPrefix, body); err != nil {
			return Account{}, err
		}
		_, _, v, err := decodeLogBody(body)
		if err != nil {
			return Account{}, err
		}
		value = v
		db.cache.Set(loc.off, value)
	}
	return UnmarshalAccount(value)
}

// Put implements DB.
func (db *StableDB) Put(key Key, a Account) error {
	value := MarshalAccount(a)
	body := encodeLogBody(opPut, key, value)
	off, err := db.append(body)
	if err != nil {
		return err
	}
	if old, ok := db.insert(location{key: key, off: off, size: uint32(len(body))}); ok {
		db.cache.Delete(old.off)
	}
	db.cache.Set(off, value)
	return nil
}

// Delete implements DB.
func (db *StableDB) Delete(key Key) (bool, error) {
	if _, ok := db.index.Get(location{key: key}); !ok {
		return false, nil
	}
	if _, err := db.append(encodeLogBody(opDelete, key, nil)); err != nil {
		return false, err
	}
	if old, ok := db.remove(key); ok {
		db.cache.Delete(old.off)
	}
	return true, nil
}

// Len implements DB.
func (db *StableDB) Len() uint64 {
	return uint64(db.index.Len())
}

// Range implements DB.
func (db *StableDB) Range(after *Key, limit int, fn func(Key, Account) error) error {
	var err error
	n := 0
	visit := func(loc location) bool {
		if after != nil && loc.key == *after {
			return true
		}
		if limit > 0 && n >= limit {
			return false
		}
		n++
		var acc Account
		if acc, err = db.load(loc); err != nil {
			return false
		}
		if err = fn(loc.key, acc); err != nil {
			return false
		}
		return true
	}
	if after == nil {
		db.index.Ascend(visit)
	} else {
		db.index.AscendGreaterOrEqual(location{key: *after}, visit)
	}
	if errors.Is(err, ErrStopRange) {
		return nil
	}
	return err
}

// LogBytes returns the committed size of the log including superseded
// records.
func (db *StableDB) LogBytes() uint64 {
	return db.tail
}

// LiveBytes returns the size of the records still referenced by the index.
func (db *StableDB) LiveBytes() uint64 {
	return db.live
}

// NeedsCompaction reports whether the log has outgrown the live records by
// the configured factor.
func (db *StableDB) NeedsCompaction() bool {
	if db.factor == 0 || db.tail < compactMinBytes {
		return false
	}
	return db.tail-stableHeaderSize > db.factor*db.live
}

// Compact rewrites the live records in key order from the start of the log
// and drops everything they supersede. The rewritten log is never longer
// than the old one, so no memory is allocated in the partition.
func (db *StableDB) Compact() error {
	type entry struct {
		key  Key
		body []byte
	}
	entries := make([]entry, 0, db.index.Len())
	var err error
	db.index.Ascend(func(loc location) bool {
		body := make([]byte, loc.size)
		if err = db.mem.Read(loc.off+recordPrefix, body); err != nil {
			return false
		}
		entries = append(entries, entry{key: loc.key, body: body})
		return true
	})
	if err != nil {
		return errors.Wrap(err, "read live records")
	}

	index := btree.NewG(btreeDegree, lessLocation)
	off := uint64(stableHeaderSize)
	var prefix [recordPrefix]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(prefix[0:4], uint32(len(e.body)))
		binary.LittleEndian.PutUint32(prefix[4:8], hash.CRC32C(e.body))
		if err := db.mem.Write(off, prefix[:]); err != nil {
			return errors.Wrap(err, "rewrite account log")
		}
		if err := db.mem.Write(off+recordPrefix, e.body); err != nil {
			return errors.Wrap(err, "rewrite account log")
		}
		index.ReplaceOrInsert(location{key: e.key, off: off, size: uint32(len(e.body))})
		off += recordPrefix + uint64(len(e.body))
	}

	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], off)
	if err := db.mem.Write(8, tail[:]); err != nil {
		return errors.Wrap(err, "write account log tail")
	}
	db.tail, db.live, db.index = off, off-stableHeaderSize, index
	db.cache.Purge()
	return nil
}
