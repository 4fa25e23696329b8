package accounts

import (
	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/schema"
)

// DB is one storage representation of the dataset.
type DB interface {
	// Schema returns the layout this representation implements.
	Schema() schema.Label
	// Get returns the account stored under key.
	Get(key Key) (Account, bool, error)
	// Put inserts or replaces the account under key.
	Put(key Key, a Account) error
	// Delete removes key and reports whether it was present.
	Delete(key Key) (bool, error)
	// Len returns the number of accounts.
	Len() uint64
	// Range calls fn for up to limit accounts with keys strictly greater
	// than after, in ascending key order. A nil after starts at the first
	// key; limit <= 0 means no limit. fn may stop early by returning
	// ErrStopRange.
	Range(after *Key, limit int, fn func(Key, Account) error) error
}

// ErrStopRange may be returned by a Range callback to stop iteration
// without error.
var ErrStopRange = errors.New("accounts: stop range")
