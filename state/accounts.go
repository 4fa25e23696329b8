package state

import (
	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/perf"
)

// GetAccount reads key from the authoritative representation.
func (s *State) GetAccount(key accounts.Key) (accounts.Account, bool, error) {
	return s.store.Get(key)
}

// RangeAccounts iterates the authoritative representation.
func (s *State) RangeAccounts(after *accounts.Key, limit int, fn func(accounts.Key, accounts.Account) error) error {
	return s.store.Range(after, limit, fn)
}

// CreateAccount adds an empty account.
func (s *State) CreateAccount(key accounts.Key, principal string) error {
	return s.store.CreateAccount(key, principal)
}

// AddSubAccount adds a named sub-account.
func (s *State) AddSubAccount(key accounts.Key, name string) (uint32, error) {
	return s.store.AddSubAccount(key, name)
}

// RegisterHardwareWallet links a hardware wallet.
func (s *State) RegisterHardwareWallet(key accounts.Key, name, principal string) error {
	return s.store.RegisterHardwareWallet(key, name, principal)
}

// AttachCanister records a canister.
func (s *State) AttachCanister(key accounts.Key, name, canisterID string) error {
	return s.store.AttachCanister(key, name, canisterID)
}

// RemoveAccount deletes an account.
func (s *State) RemoveAccount(key accounts.Key) error {
	return s.store.RemoveAccount(key)
}

// CreateToyAccounts adds n generated accounts.
func (s *State) CreateToyAccounts(n uint64) error {
	return s.store.CreateToyAccounts(n)
}

// RecordSample appends a performance sample.
func (s *State) RecordSample(sample perf.Sample) {
	s.perf.Record(sample)
}

// RecordExceptionalTransaction remembers an exceptional transaction ID.
func (s *State) RecordExceptionalTransaction(id uint64) {
	s.perf.RecordExceptionalTransaction(id)
}

// IncrementPeriodicTasks counts a periodic task run.
func (s *State) IncrementPeriodicTasks() {
	s.perf.IncrementPeriodicTasks()
}

// Performance returns the performance counts.
func (s *State) Performance() *perf.Counts {
	return s.perf
}
