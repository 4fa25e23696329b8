package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/stablestate/accounts"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Key returns a random account key.
func (r *RNG) Key() accounts.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	var k accounts.Key
	r.rand.Read(k[:])
	return k
}

// Keys returns n distinct random keys.
func (r *RNG) Keys(n int) []accounts.Key {
	seen := make(map[accounts.Key]struct{}, n)
	out := make([]accounts.Key, 0, n)
	for len(out) < n {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Principal returns a random principal text.
func (r *RNG) Principal() string {
	return fmt.Sprintf("principal-%016x", r.Uint64())
}

// Account returns an account with up to maxSub sub-accounts, up to
// maxWallets hardware wallets and up to maxCanisters canisters. Names and
// principals are unique within the account.
func (r *RNG) Account(maxSub, maxWallets, maxCanisters int) accounts.Account {
	a := accounts.Account{Principal: r.Principal()}
	for i := range r.Intn(maxSub + 1) {
		a.SubAccounts = append(a.SubAccounts, accounts.SubAccount{Name: fmt.Sprintf("sub-%d", i), Index: uint32(i + 1)})
	}
	for i := range r.Intn(maxWallets + 1) {
		a.HardwareWallets = append(a.HardwareWallets, accounts.HardwareWallet{
			Name:      fmt.Sprintf("hw-%d", i),
			Principal: fmt.Sprintf("%s-hw-%d", a.Principal, i),
		})
	}
	for i := range r.Intn(maxCanisters + 1) {
		a.Canisters = append(a.Canisters, accounts.Canister{
			Name:       fmt.Sprintf("canister-%d", i),
			CanisterID: fmt.Sprintf("%s-c-%d", a.Principal, i),
		})
	}
	return a
}

// Writer is anything accounts can be created through: an engine, a state
// or an account store.
type Writer interface {
	CreateAccount(key accounts.Key, principal string) error
	AddSubAccount(key accounts.Key, name string) (uint32, error)
	RegisterHardwareWallet(key accounts.Key, name, principal string) error
	AttachCanister(key accounts.Key, name, canisterID string) error
}

// Put creates a through w with its sub-accounts, wallets and canisters.
// Sub-account indices are assigned by w.
func Put(w Writer, key accounts.Key, a accounts.Account) error {
	if err := w.CreateAccount(key, a.Principal); err != nil {
		return err
	}
	for _, sa := range a.SubAccounts {
		if _, err := w.AddSubAccount(key, sa.Name); err != nil {
			return err
		}
	}
	for _, hw := range a.HardwareWallets {
		if err := w.RegisterHardwareWallet(key, hw.Name, hw.Principal); err != nil {
			return err
		}
	}
	for _, c := range a.Canisters {
		if err := w.AttachCanister(key, c.Name, c.CanisterID); err != nil {
			return err
		}
	}
	return nil
}

// Populate creates n random small accounts through w and returns their keys.
func (r *RNG) Populate(w Writer, n int) ([]accounts.Key, error) {
	keys := r.Keys(n)
	for _, k := range keys {
		if err := Put(w, k, r.Account(3, 2, 2)); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
