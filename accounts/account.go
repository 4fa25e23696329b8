package accounts

import (
	"fmt"

	"github.com/hupe1980/stablestate/internal/record"
)

const (
	// MaxSubAccounts is the per-account sub-account limit.
	MaxSubAccounts = 500
	// MaxHardwareWallets is the per-account hardware wallet limit.
	MaxHardwareWallets = 10
	// MaxCanisters is the per-account attached canister limit.
	MaxCanisters = 100
)

// SubAccount is a named sub-account. Index 0 is the default account and is
// never stored.
type SubAccount struct {
	Name  string
	Index uint32
}

// HardwareWallet is an external signer registered with an account.
type HardwareWallet struct {
	Name      string
	Principal string
}

// Canister is a canister the account owner attached for display.
type Canister struct {
	Name       string
	CanisterID string
}

// Account is one dataset entry.
type Account struct {
	Principal       string
	SubAccounts     []SubAccount
	HardwareWallets []HardwareWallet
	Canisters       []Canister
}

// Clone returns a deep copy of a.
func (a Account) Clone() Account {
	out := Account{Principal: a.Principal}
	out.SubAccounts = append([]SubAccount(nil), a.SubAccounts...)
	out.HardwareWallets = append([]HardwareWallet(nil), a.HardwareWallets...)
	out.Canisters = append([]Canister(nil), a.Canisters...)
	return out
}

// Equal reports whether a and o hold the same data.
func (a Account) Equal(o Account) bool {
	if a.Principal != o.Principal ||
		len(a.SubAccounts) != len(o.SubAccounts) ||
		len(a.HardwareWallets) != len(o.HardwareWallets) ||
		len(a.Canisters) != len(o.Canisters) {
		return false
	}
	for i := range a.SubAccounts {
		if a.SubAccounts[i] != o.SubAccounts[i] {
			return false
		}
	}
	for i := range a.HardwareWallets {
		if a.HardwareWallets[i] != o.HardwareWallets[i] {
			return false
		}
	}
	for i := range a.Canisters {
		if a.Canisters[i] != o.Canisters[i] {
			return false
		}
	}
	return true
}

// Field numbers of the account record.
const (
	fieldPrincipal      = 1
	fieldSubAccount     = 2
	fieldHardwareWallet = 3
	fieldCanister       = 4

	fieldName  = 1
	fieldValue = 2
	fieldIndex = 3
)

// MarshalAccount encodes a as a record.
func MarshalAccount(a Account) []byte {
	e := record.NewEncoder(64)
	e.String(fieldPrincipal, a.Principal)
	for _, s := range a.SubAccounts {
		e.Message(fieldSubAccount, func(e *record.Encoder) {
			e.String(fieldName, s.Name)
			e.Varint(fieldIndex, uint64(s.Index))
		})
	}
	for _, hw := range a.HardwareWallets {
		e.Message(fieldHardwareWallet, func(e *record.Encoder) {
			e.String(fieldName, hw.Name)
			e.String(fieldValue, hw.Principal)
		})
	}
	for _, c := range a.Canisters {
		e.Message(fieldCanister, func(e *record.Encoder) {
			e.String(fieldName, c.Name)
			e.String(fieldValue, c.CanisterID)
		})
	}
	return e.Result()
}

// UnmarshalAccount decodes a record produced by MarshalAccount.
func UnmarshalAccount(b []byte) (Account, error) {
	var a Account
	err := record.Fields(b, func(f record.Field) error {
		switch f.Num {
		case fieldPrincipal:
			a.Principal = f.String()
		case fieldSubAccount:
			var s SubAccount
			if err := record.Fields(f.Bytes, func(f record.Field) error {
				switch f.Num {
				case fieldName:
					s.Name = f.String()
				case fieldIndex:
					s.Index = uint32(f.Varint)
				}
				return nil
			}); err != nil {
				return err
			}
			a.SubAccounts = append(a.SubAccounts, s)
		case fieldHardwareWallet:
			var hw HardwareWallet
			if err := record.Fields(f.Bytes, func(f record.Field) error {
				switch f.Num {
				case fieldName:
					hw.Name = f.String()
				case fieldValue:
					hw.Principal = f.String()
				}
				return nil
			}); err != nil {
				return err
			}
			a.HardwareWallets = append(a.HardwareWallets, hw)
		case fieldCanister:
			var c Canister
			if err := record.Fields(f.Bytes, func(f record.Field) error {
				switch f.Num {
				case fieldName:
					c.Name = f.String()
				case fieldValue:
					c.CanisterID = f.String()
				}
				return nil
			}); err != nil {
				return err
			}
			a.Canisters = append(a.Canisters, c)
		}
		return nil
	})
	if err != nil {
		return Account{}, fmt.Errorf("%w: decode account: %w", ErrCorruptRecord, err)
	}
	return a, nil
}
