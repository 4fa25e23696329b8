package accounts

import "github.com/cockroachdb/errors"

var (
	// ErrAccountExists is returned when creating an account under a taken key.
	ErrAccountExists = errors.New("accounts: account already exists")
	// ErrAccountNotFound is returned for operations on a missing account.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrLimitExceeded is returned when an account has too many sub-accounts,
	// hardware wallets or canisters.
	ErrLimitExceeded = errors.New("accounts: limit exceeded")
	// ErrDuplicateName is returned when a name is already used within an account.
	ErrDuplicateName = errors.New("accounts: duplicate name")
	// ErrCorruptRecord is returned when a persisted record fails to decode.
	ErrCorruptRecord = errors.New("accounts: corrupt record")
	// ErrMigrating is returned when starting a migration while one is in progress.
	ErrMigrating = errors.New("accounts: migration in progress")
	// ErrNotMigrating is returned when stepping or finishing without a migration.
	ErrNotMigrating = errors.New("accounts: no migration in progress")
)
