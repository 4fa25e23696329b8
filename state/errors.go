package state

import "github.com/cockroachdb/errors"

var (
	// ErrCorruptBlob is returned when a legacy or heap blob cannot be read.
	ErrCorruptBlob = errors.New("state: corrupt blob")
	// ErrCorruptState is returned when the persisted pieces contradict each
	// other, for example a migration whose source is not authoritative.
	ErrCorruptState = errors.New("state: inconsistent persisted state")
	// ErrNotBlank is returned when installing onto memory that holds data.
	ErrNotBlank = errors.New("state: memory is not blank")
)
