package accounts

import (
	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/internal/record"
	"github.com/hupe1980/stablestate/schema"
)

// Direction tells whether a migration moves to a newer or an older layout.
type Direction int

const (
	// Forward moves to a newer layout.
	Forward Direction = iota
	// Rollback moves to an older layout.
	Rollback
)

func (d Direction) String() string {
	if d == Rollback {
		return "rollback"
	}
	return "forward"
}

// Counts are the incrementally maintained dataset statistics.
type Counts struct {
	Accounts        uint64
	SubAccounts     uint64
	HardwareWallets uint64
}

func (c *Counts) add(a Account) {
	c.Accounts++
	c.SubAccounts += uint64(len(a.SubAccounts))
	c.HardwareWallets += uint64(len(a.HardwareWallets))
}

func (c *Counts) sub(a Account) {
	c.Accounts--
	c.SubAccounts -= uint64(len(a.SubAccounts))
	c.HardwareWallets -= uint64(len(a.HardwareWallets))
}

// MigrationStatus describes an in-progress migration.
type MigrationStatus struct {
	Source    schema.Label
	Target    schema.Label
	Direction Direction
	// Cursor is the last key copied to the target, nil before the first batch.
	Cursor *Key
	// Remaining is the number of accounts not yet copied.
	Remaining uint64
	// Exhausted is set once a batch found no further keys after the cursor.
	Exhausted bool
}

type migrationState struct {
	target    DB
	direction Direction
	cursor    *Key
	exhausted bool
}

// Store owns the authoritative representation and, during a migration,
// the target representation with its cursor.
//
// Writes go to the authoritative representation. While migrating, writes to
// keys at or below the cursor are mirrored to the target so the copied
// prefix never diverges.
type Store struct {
	db         DB
	mig        *migrationState
	counts     Counts
	recomputed bool
}

// NewStore wraps db and counts its contents.
func NewStore(db DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.recount(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewEmptyStore returns an idle store over an empty MapDB.
func NewEmptyStore() *Store {
	return &Store{db: NewMapDB()}
}

// RestoreStore wraps db with previously persisted counts. Missing or stale
// counts are recomputed once and RecomputedOnUpgrade reports true.
func RestoreStore(db DB, counts *Counts) (*Store, error) {
	if counts == nil || counts.Accounts != db.Len() {
		s, err := NewStore(db)
		if err != nil {
			return nil, err
		}
		s.recomputed = true
		return s, nil
	}
	return &Store{db: db, counts: *counts}, nil
}

func (s *Store) recount() error {
	c, err := count(s.db)
	if err != nil {
		return err
	}
	s.counts = c
	return nil
}

func count(db DB) (Counts, error) {
	var c Counts
	if err := db.Range(nil, 0, func(_ Key, a Account) error {
		c.add(a)
		return nil
	}); err != nil {
		return Counts{}, errors.Wrap(err, "count accounts")
	}
	return c, nil
}

// Authoritative returns the representation reads are served from.
func (s *Store) Authoritative() DB {
	return s.db
}

// Schema returns the layout of the authoritative representation.
func (s *Store) Schema() schema.Label {
	return s.db.Schema()
}

// Counts returns the dataset statistics.
func (s *Store) Counts() Counts {
	return s.counts
}

// RecomputedOnUpgrade reports whether the statistics were recounted after
// the last schema change.
func (s *Store) RecomputedOnUpgrade() bool {
	return s.recomputed
}

// Len returns the number of accounts.
func (s *Store) Len() uint64 {
	return s.db.Len()
}

// Get reads key from the authoritative representation.
func (s *Store) Get(key Key) (Account, bool, error) {
	return s.db.Get(key)
}

// Range iterates the authoritative representation.
func (s *Store) Range(after *Key, limit int, fn func(Key, Account) error) error {
	return s.db.Range(after, limit, fn)
}

func (s *Store) mirrored(key Key) bool {
	return s.mig != nil && s.mig.cursor != nil && key.Compare(*s.mig.cursor) <= 0
}

func (s *Store) put(key Key, a Account) error {
	old, existed, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if err := s.db.Put(key, a); err != nil {
		return err
	}
	if existed {
		s.counts.sub(old)
	}
	s.counts.add(a)
	if s.mirrored(key) {
		if err := s.mig.target.Put(key, a); err != nil {
			return errors.Wrap(err, "mirror write to migration target")
		}
	}
	return nil
}

func (s *Store) update(key Key, fn func(*Account) error) error {
	a, ok, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrAccountNotFound, "%s", key)
	}
	if err := fn(&a); err != nil {
		return err
	}
	return s.put(key, a)
}

// CreateAccount adds an empty account for principal under key.
func (s *Store) CreateAccount(key Key, principal string) error {
	_, ok, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if ok {
		return errors.Wrapf(ErrAccountExists, "%s", key)
	}
	return s.put(key, Account{Principal: principal})
}

// AddSubAccount adds a named sub-account and returns its index.
func (s *Store) AddSubAccount(key Key, name string) (uint32, error) {
	var idx uint32
	err := s.update(key, func(a *Account) error {
		if len(a.SubAccounts) >= MaxSubAccounts {
			return errors.Wrapf(ErrLimitExceeded, "%d sub-accounts", MaxSubAccounts)
		}
		idx = 1
		for _, sa := range a.SubAccounts {
			if sa.Name == name {
				return errors.Wrapf(ErrDuplicateName, "sub-account %q", name)
			}
			if sa.Index >= idx {
				idx = sa.Index + 1
			}
		}
		a.SubAccounts = append(a.SubAccounts, SubAccount{Name: name, Index: idx})
		return nil
	})
	return idx, err
}

// RegisterHardwareWallet links a hardware wallet to the account.
func (s *Store) RegisterHardwareWallet(key Key, name, principal string) error {
	return s.update(key, func(a *Account) error {
		if len(a.HardwareWallets) >= MaxHardwareWallets {
			return errors.Wrapf(ErrLimitExceeded, "%d hardware wallets", MaxHardwareWallets)
		}
		for _, hw := range a.HardwareWallets {
			if hw.Principal == principal {
				return errors.Wrapf(ErrDuplicateName, "hardware wallet %s", principal)
			}
		}
		a.HardwareWallets = append(a.HardwareWallets, HardwareWallet{Name: name, Principal: principal})
		return nil
	})
}

// AttachCanister records a canister for the account.
func (s *Store) AttachCanister(key Key, name, canisterID string) error {
	return s.update(key, func(a *Account) error {
		if len(a.Canisters) >= MaxCanisters {
			return errors.Wrapf(ErrLimitExceeded, "%d canisters", MaxCanisters)
		}
		for _, c := range a.Canisters {
			if c.CanisterID == canisterID {
				return errors.Wrapf(ErrDuplicateName, "canister %s", canisterID)
			}
		}
		a.Canisters = append(a.Canisters, Canister{Name: name, CanisterID: canisterID})
		return nil
	})
}

// RemoveAccount deletes the account under key.
func (s *Store) RemoveAccount(key Key) error {
	old, ok, err := s.db.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrAccountNotFound, "%s", key)
	}
	if _, err := s.db.Delete(key); err != nil {
		return err
	}
	s.counts.sub(old)
	if s.mirrored(key) {
		if _, err := s.mig.target.Delete(key); err != nil {
			return errors.Wrap(err, "mirror delete to migration target")
		}
	}
	return nil
}

// ToyAccount builds the i-th generated test account.
func ToyAccount(i uint64) Account {
	a := Account{Principal: "toy-principal-" + ToyKey(i).String()[:16]}
	for j := uint64(0); j < i%3; j++ {
		a.SubAccounts = append(a.SubAccounts, SubAccount{Name: "sub", Index: uint32(j + 1)})
	}
	if i%2 == 1 {
		a.HardwareWallets = append(a.HardwareWallets, HardwareWallet{Name: "hw", Principal: "hw-" + ToyKey(i).String()[:16]})
	}
	return a
}

// CreateToyAccounts adds n generated accounts. Their indices continue from
// the current account count so repeated calls never collide.
func (s *Store) CreateToyAccounts(n uint64) error {
	for i, created := s.db.Len(), uint64(0); created < n; i++ {
		key := ToyKey(i)
		_, ok, err := s.db.Get(key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := s.put(key, ToyAccount(i)); err != nil {
			return err
		}
		created++
	}
	return nil
}

// Migrating reports whether a migration is in progress.
func (s *Store) Migrating() bool {
	return s.mig != nil
}

// Target returns the migration target, or nil when idle.
func (s *Store) Target() DB {
	if s.mig == nil {
		return nil
	}
	return s.mig.target
}

// MigrationStatus describes the migration in progress.
func (s *Store) MigrationStatus() (MigrationStatus, bool) {
	if s.mig == nil {
		return MigrationStatus{}, false
	}
	st := MigrationStatus{
		Source:    s.db.Schema(),
		Target:    s.mig.target.Schema(),
		Direction: s.mig.direction,
		Exhausted: s.mig.exhausted,
	}
	if s.mig.cursor != nil {
		c := *s.mig.cursor
		st.Cursor = &c
	}
	if src, dst := s.db.Len(), s.mig.target.Len(); src > dst {
		st.Remaining = src - dst
	}
	return st, true
}

// BeginMigration starts copying into target, which must be empty and of a
// different layout.
func (s *Store) BeginMigration(target DB) error {
	return s.ResumeMigration(target, nil, false)
}

// ResumeMigration continues a migration into target after cursor. target
// must hold exactly the source keys up to cursor.
func (s *Store) ResumeMigration(target DB, cursor *Key, exhausted bool) error {
	if s.mig != nil {
		return ErrMigrating
	}
	if target.Schema() == s.db.Schema() {
		return errors.AssertionFailedf("migration target has the source layout %s", target.Schema())
	}
	if cursor == nil && target.Len() != 0 {
		return errors.AssertionFailedf("migration target already holds %d accounts", target.Len())
	}
	dir := Forward
	if !schema.Newer(target.Schema(), s.db.Schema()) {
		dir = Rollback
	}
	s.mig = &migrationState{target: target, direction: dir, exhausted: exhausted}
	if cursor != nil {
		c := *cursor
		s.mig.cursor = &c
	}
	return nil
}

// StepMigration copies up to batch accounts after the cursor into the
// target in ascending key order. done is true once no keys remain.
func (s *Store) StepMigration(batch int) (copied int, done bool, err error) {
	if s.mig == nil {
		return 0, false, ErrNotMigrating
	}
	if batch <= 0 {
		return 0, false, errors.AssertionFailedf("migration batch size %d", batch)
	}
	if s.mig.exhausted {
		return 0, true, nil
	}
	err = s.db.Range(s.mig.cursor, batch, func(k Key, a Account) error {
		if err := s.mig.target.Put(k, a); err != nil {
			return err
		}
		key := k
		s.mig.cursor = &key
		copied++
		return nil
	})
	if err != nil {
		return copied, false, errors.Wrap(err, "copy migration batch")
	}
	if copied < batch {
		s.mig.exhausted = true
	}
	return copied, s.mig.exhausted, nil
}

// CancelMigration abandons the migration and returns the dropped target.
// The authoritative representation is untouched.
func (s *Store) CancelMigration() DB {
	if s.mig == nil {
		return nil
	}
	target := s.mig.target
	s.mig = nil
	return target
}

// FinishMigration makes the target authoritative and returns the dropped
// source. The statistics are recounted once against the new representation.
func (s *Store) FinishMigration() (DB, error) {
	if s.mig == nil {
		return nil, ErrNotMigrating
	}
	if !s.mig.exhausted {
		return nil, errors.AssertionFailedf("migration finished before the source was exhausted")
	}
	if s.mig.target.Len() != s.db.Len() {
		return nil, errors.AssertionFailedf("migration target holds %d accounts, source %d", s.mig.target.Len(), s.db.Len())
	}
	c, err := count(s.mig.target)
	if err != nil {
		return nil, err
	}
	source := s.db
	s.db, s.mig = s.mig.target, nil
	s.counts, s.recomputed = c, true
	return source, nil
}

// Savepoint is the bookkeeping of a Store at one point in time. It shares
// the representations with the Store and is only valid while neither is
// written.
type Savepoint struct {
	db         DB
	mig        *migrationState
	counts     Counts
	recomputed bool
}

// Save captures the current bookkeeping.
func (s *Store) Save() Savepoint {
	sp := Savepoint{db: s.db, counts: s.counts, recomputed: s.recomputed}
	if s.mig != nil {
		m := *s.mig
		sp.mig = &m
	}
	return sp
}

// Rewind reinstates sp, undoing a FinishMigration or CancelMigration made
// since Save.
func (s *Store) Rewind(sp Savepoint) {
	s.db, s.mig = sp.db, sp.mig
	s.counts, s.recomputed = sp.counts, sp.recomputed
}

const (
	fieldCountAccounts = 1
	fieldCountSubs     = 2
	fieldCountHW       = 3
)

// MarshalCounts encodes c.
func MarshalCounts(c Counts) []byte {
	e := record.NewEncoder(16)
	e.Varint(fieldCountAccounts, c.Accounts)
	e.Varint(fieldCountSubs, c.SubAccounts)
	e.Varint(fieldCountHW, c.HardwareWallets)
	return e.Result()
}

// UnmarshalCounts decodes counts written by MarshalCounts.
func UnmarshalCounts(b []byte) (Counts, error) {
	var c Counts
	err := record.Fields(b, func(f record.Field) error {
		switch f.Num {
		case fieldCountAccounts:
			c.Accounts = f.Varint
		case fieldCountSubs:
			c.SubAccounts = f.Varint
		case fieldCountHW:
			c.HardwareWallets = f.Varint
		}
		return nil
	})
	return c, err
}
