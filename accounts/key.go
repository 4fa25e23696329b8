package accounts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cockroachdb/errors"
)

// KeySize is the length of an account identifier.
const KeySize = 32

// Key identifies an account. Keys are ordered bytewise.
type Key [KeySize]byte

// KeyFromBytes copies b into a Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, errors.Wrapf(ErrCorruptRecord, "key of %d bytes", len(b))
	}
	copy(k[:], b)
	return k, nil
}

// ParseKey decodes a hex account identifier.
func ParseKey(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, errors.Wrap(err, "parse account key")
	}
	return KeyFromBytes(b)
}

// ToyKey derives the key of the i-th generated test account.
func ToyKey(i uint64) Key {
	return sha256.Sum256([]byte("toy-account-" + strconv.FormatUint(i, 10)))
}

// Compare orders keys bytewise.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k[:], o[:])
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}
