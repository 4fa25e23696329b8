package stablestate

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/partition"
	"github.com/hupe1980/stablestate/schema"
	"github.com/hupe1980/stablestate/state"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an account or a name is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrLimitExceeded is returned when an account holds the maximum number
	// of sub-accounts, hardware wallets or canisters.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrUpgradeFailed marks an upgrade that was rolled back. The engine
	// keeps serving the state it had before.
	ErrUpgradeFailed = errors.New("upgrade failed")
)

// ErrSchemaMismatch indicates a requested schema the registry does not know.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrSchemaMismatch struct {
	Requested schema.Label
	cause     error
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch: %s is not a known schema", e.Requested)
}

func (e *ErrSchemaMismatch) Unwrap() error { return e.cause }

// ErrCorruptState indicates persisted memory that cannot be interpreted.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrCorruptState struct {
	// Component names what failed to decode: "partition header",
	// "schema label", "blob" or "layout".
	Component string
	cause     error
}

func (e *ErrCorruptState) Error() string {
	return fmt.Sprintf("corrupt persisted state: %s: %v", e.Component, e.cause)
}

func (e *ErrCorruptState) Unwrap() error { return e.cause }

func translateError(err error, requested *schema.Label) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, accounts.ErrAccountExists), errors.Is(err, accounts.ErrDuplicateName):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, accounts.ErrLimitExceeded):
		return fmt.Errorf("%w: %w", ErrLimitExceeded, err)
	}

	if errors.Is(err, schema.ErrUnknownLabel) && requested != nil {
		return &ErrSchemaMismatch{Requested: *requested, cause: err}
	}

	switch {
	case errors.Is(err, partition.ErrCorruptHeader):
		return &ErrCorruptState{Component: "partition header", cause: err}
	case errors.Is(err, schema.ErrCorruptLabel), errors.Is(err, schema.ErrUnknownLabel):
		return &ErrCorruptState{Component: "schema label", cause: err}
	case errors.Is(err, state.ErrCorruptBlob):
		return &ErrCorruptState{Component: "blob", cause: err}
	case errors.Is(err, state.ErrCorruptState):
		return &ErrCorruptState{Component: "layout", cause: err}
	}
	return err
}
