package stablestate

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/migration"
	"github.com/hupe1980/stablestate/schema"
)

type opCode int

const (
	opCreate opCode = iota
	opRemove
	opAddSub
	opUpgradePartitioned
	opUpgradeFlat
	opUpgradeNone
	opTick
	numOps
)

// model replays the data operations on a plain store.
type model struct {
	store *accounts.Store
}

func newModel() *model {
	s, err := accounts.NewStore(accounts.NewMapDB())
	if err != nil {
		panic(err)
	}
	return &model{store: s}
}

func (m *model) firstKey() (accounts.Key, bool) {
	var key accounts.Key
	found := false
	_ = m.store.Range(nil, 1, func(k accounts.Key, _ accounts.Account) error {
		key, found = k, true
		return nil
	})
	return key, found
}

func apply(ctx context.Context, eng *Engine, m *model, op opCode, step int) error {
	switch op {
	case opCreate:
		if err := m.store.CreateToyAccounts(3); err != nil {
			return err
		}
		return eng.CreateToyAccounts(3)
	case opRemove:
		k, ok := m.firstKey()
		if !ok {
			return nil
		}
		if err := m.store.RemoveAccount(k); err != nil {
			return err
		}
		return eng.RemoveAccount(k)
	case opAddSub:
		k, ok := m.firstKey()
		if !ok {
			return nil
		}
		name := fmt.Sprintf("s%d", step)
		if _, err := m.store.AddSubAccount(k, name); err != nil {
			return err
		}
		_, err := eng.AddSubAccount(k, name)
		return err
	case opUpgradePartitioned:
		return eng.Upgrade(ctx, Arguments{Schema: ptr(schema.PartitionedStable)})
	case opUpgradeFlat:
		return eng.Upgrade(ctx, Arguments{Schema: ptr(schema.FlatSerialized)})
	case opUpgradeNone:
		return eng.Upgrade(ctx, Arguments{})
	case opTick:
		_, err := eng.Tick(ctx)
		return err
	}
	return nil
}

func same(eng *Engine, m *model) error {
	want := map[accounts.Key]accounts.Account{}
	if err := m.store.Range(nil, 0, func(k accounts.Key, a accounts.Account) error {
		want[k] = a.Clone()
		return nil
	}); err != nil {
		return err
	}

	n := 0
	err := eng.RangeAccounts(nil, 0, func(k accounts.Key, a accounts.Account) error {
		n++
		w, ok := want[k]
		if !ok {
			return fmt.Errorf("unexpected account %s", k)
		}
		if !w.Equal(a) {
			return fmt.Errorf("account %s differs", k)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n != len(want) {
		return fmt.Errorf("engine holds %d accounts, model %d", n, len(want))
	}

	s, c := eng.Stats(), m.store.Counts()
	if s.AccountsCount != c.Accounts || s.SubAccountsCount != c.SubAccounts || s.HardwareWalletAccountsCount != c.HardwareWallets {
		return fmt.Errorf("stats %+v, model counts %+v", s.Invariant(), c)
	}
	return nil
}

func TestProperty_OperationSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	parameters.MaxSize = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("engine matches the model across upgrades and ticks", prop.ForAll(
		func(ops []int) (bool, error) {
			ctx := context.Background()
			eng, err := Install(ctx, memory.NewVectorMemory(0), Arguments{}, WithBucketPages(1), WithBatchSize(2))
			if err != nil {
				return false, err
			}
			m := newModel()

			for i, o := range ops {
				if err := apply(ctx, eng, m, opCode(o), i); err != nil {
					return false, err
				}
				if err := same(eng, m); err != nil {
					return false, fmt.Errorf("after op %d (%d): %w", i, o, err)
				}
			}

			for eng.Phase() == migration.Migrating {
				if _, err := eng.Tick(ctx); err != nil {
					return false, err
				}
			}
			if err := eng.Upgrade(ctx, Arguments{}); err != nil {
				return false, err
			}
			return true, same(eng, m)
		},
		gen.SliceOf(gen.IntRange(0, int(numOps)-1)),
	))

	properties.Property("flat to partitioned and back keeps every account", prop.ForAll(
		func(n uint8) (bool, error) {
			ctx := context.Background()
			eng, err := Install(ctx, memory.NewVectorMemory(0), Arguments{}, WithBucketPages(1), WithBatchSize(5))
			if err != nil {
				return false, err
			}
			if err := eng.CreateToyAccounts(uint64(n)); err != nil {
				return false, err
			}
			before := eng.Stats().Invariant()

			for _, target := range []schema.Label{schema.PartitionedStable, schema.FlatSerialized} {
				if err := eng.Upgrade(ctx, Arguments{Schema: ptr(target)}); err != nil {
					return false, err
				}
				for eng.Phase() == migration.Migrating {
					if _, err := eng.Tick(ctx); err != nil {
						return false, err
					}
				}
				if eng.Schema() != target {
					return false, fmt.Errorf("schema %s, want %s", eng.Schema(), target)
				}
			}
			return reflect.DeepEqual(eng.Stats().Invariant(), before), nil
		},
		gen.UInt8Range(0, 60),
	))

	properties.Property("repeating a request is idempotent", prop.ForAll(
		func(n uint8, partitioned bool) (bool, error) {
			ctx := context.Background()
			eng, err := Install(ctx, memory.NewVectorMemory(0), Arguments{}, WithBucketPages(1))
			if err != nil {
				return false, err
			}
			if err := eng.CreateToyAccounts(uint64(n)); err != nil {
				return false, err
			}
			target := schema.FlatSerialized
			if partitioned {
				target = schema.PartitionedStable
			}
			for range 2 {
				if err := eng.Upgrade(ctx, Arguments{Schema: ptr(target)}); err != nil {
					return false, err
				}
			}
			want := migration.Idle
			if partitioned {
				want = migration.Migrating
			}
			return eng.Phase() == want && eng.Stats().AccountsCount == uint64(n), nil
		},
		gen.UInt8Range(0, 30),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
