package state

import (
	"testing"

	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/internal/record"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/partition"
	"github.com/hupe1980/stablestate/perf"
	"github.com/hupe1980/stablestate/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{BucketPages: 1}
}

func requireSameAccounts(t *testing.T, want, got *State) {
	t.Helper()
	require.Equal(t, want.store.Len(), got.store.Len())
	require.NoError(t, want.RangeAccounts(nil, 0, func(k accounts.Key, a accounts.Account) error {
		other, ok, err := got.GetAccount(k)
		require.NoError(t, err)
		require.True(t, ok, "missing %s", k)
		assert.True(t, a.Equal(other), "account %s differs", k)
		return nil
	}))
}

func TestLegacyRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 1200} {
		raw := memory.NewVectorMemory(0)
		s := New(raw, testConfig())
		require.NoError(t, s.CreateToyAccounts(n))
		s.RecordSample(perf.Sample{TimestampNs: 1, Name: "create", Counter: n})

		blob, err := s.Encode()
		require.NoError(t, err)

		got := New(memory.NewVectorMemory(0), testConfig())
		require.NoError(t, got.Decode(blob))
		requireSameAccounts(t, s, got)
		assert.Equal(t, s.store.Counts(), got.store.Counts())
		assert.Equal(t, s.perf.Samples(), got.perf.Samples())

		again, err := got.Encode()
		require.NoError(t, err)
		assert.Equal(t, blob, again)
	}
}

func TestLoad_Blank(t *testing.T) {
	s, err := Load(memory.NewVectorMemory(0), testConfig())
	require.NoError(t, err)
	assert.Equal(t, schema.FlatSerialized, s.SchemaLabel())
	assert.Equal(t, partition.KindLegacy, s.Layout().Kind())
}

func TestLoad_LegacyPersistRoundTrip(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s := New(raw, testConfig())
	require.NoError(t, s.CreateToyAccounts(30))
	require.NoError(t, s.Persist())

	got, err := Load(raw, testConfig())
	require.NoError(t, err)
	requireSameAccounts(t, s, got)
}

func TestLoad_GarbageIsFatal(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	require.NoError(t, memory.EnsureBytes(raw, 64))
	require.NoError(t, raw.Write(0, []byte("definitely not a blob")))

	_, err := Load(raw, testConfig())
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestDecodeLegacy_DatasetCorruptionIsFatal(t *testing.T) {
	e := record.NewEncoder(8)
	e.Bytes(fieldDataset, []byte{0x0a, 0x7f})
	blob := record.Seal(legacyMagic, blobVersion, e.Result())

	_, _, err := DecodeLegacy(blob, New(nil, Config{}).Logger())
	assert.ErrorIs(t, err, ErrCorruptBlob)
}

func TestDecodeLegacy_PerformanceCorruptionDegrades(t *testing.T) {
	m := accounts.NewMapDB()
	require.NoError(t, m.Put(accounts.ToyKey(0), accounts.ToyAccount(0)))
	snapshot, err := m.MarshalBinary()
	require.NoError(t, err)

	e := record.NewEncoder(64)
	e.Message(fieldDataset, func(e *record.Encoder) {
		e.Bytes(fieldDatasetMap, snapshot)
	})
	e.Bytes(fieldAuxiliary, []byte{0x0a, 0x7f})
	blob := record.Seal(legacyMagic, blobVersion, e.Result())

	store, pc, err := DecodeLegacy(blob, New(nil, Config{}).Logger())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), store.Len())
	assert.Empty(t, pc.Samples())
	assert.True(t, store.RecomputedOnUpgrade(), "missing counts are recomputed")
}

func TestDecodeLegacy_ChecksumMismatch(t *testing.T) {
	s := New(memory.NewVectorMemory(0), testConfig())
	require.NoError(t, s.CreateToyAccounts(3))
	blob, err := s.Encode()
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, _, err = DecodeLegacy(blob, s.Logger())
	assert.ErrorIs(t, err, ErrCorruptBlob)
	assert.ErrorIs(t, err, record.ErrChecksumMismatch)
}

func TestForwardMigration_PartitionsImmediately(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s := New(raw, testConfig())
	require.NoError(t, s.CreateToyAccounts(12))
	require.NoError(t, s.Persist())

	require.NoError(t, s.BeginMigration(schema.PartitionedStable))
	assert.Equal(t, partition.KindPartitioned, s.Layout().Kind())
	assert.Equal(t, schema.FlatSerialized, s.SchemaLabel())

	// Memory is already self-describing: unlabeled partitions with the map
	// in the heap image and a migration that has not copied anything.
	reloaded, err := Load(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, schema.FlatSerialized, reloaded.SchemaLabel())
	st, ok := reloaded.MigrationStatus()
	require.True(t, ok)
	assert.Equal(t, uint64(12), st.Remaining)
	requireSameAccounts(t, s, reloaded)
}

func TestForwardMigration_ResumesFromPersistedCursor(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s := New(raw, testConfig())
	require.NoError(t, s.CreateToyAccounts(40))
	require.NoError(t, s.BeginMigration(schema.PartitionedStable))

	_, _, err := s.StepMigration(10)
	require.NoError(t, err)
	require.NoError(t, s.Persist())
	// Progress after the last persist reaches the log but not the cursor.
	_, _, err = s.StepMigration(10)
	require.NoError(t, err)

	reloaded, err := Load(raw, testConfig())
	require.NoError(t, err)
	st, ok := reloaded.MigrationStatus()
	require.True(t, ok)
	assert.Equal(t, uint64(30), st.Remaining)

	for done := false; !done; {
		_, done, err = reloaded.StepMigration(7)
		require.NoError(t, err)
	}
	require.NoError(t, reloaded.CompleteMigration())
	assert.Equal(t, schema.PartitionedStable, reloaded.SchemaLabel())
	requireSameAccounts(t, s, reloaded)

	label, ok, err := reloaded.Layout().Partitions().SchemaLabel()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, schema.PartitionedStable, label)

	again, err := Load(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, schema.PartitionedStable, again.SchemaLabel())
	_, migrating := again.MigrationStatus()
	assert.False(t, migrating)
	requireSameAccounts(t, s, again)
}

func TestCancelForwardMigration_ReturnsToLegacy(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s := New(raw, testConfig())
	require.NoError(t, s.CreateToyAccounts(9))
	require.NoError(t, s.BeginMigration(schema.PartitionedStable))
	_, _, err := s.StepMigration(4)
	require.NoError(t, err)

	require.NoError(t, s.CancelMigration())
	assert.Equal(t, partition.KindLegacy, s.Layout().Kind())

	reloaded, err := Load(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, partition.KindLegacy, reloaded.Layout().Kind())
	assert.Equal(t, schema.FlatSerialized, reloaded.SchemaLabel())
	requireSameAccounts(t, s, reloaded)

	assert.ErrorIs(t, s.CancelMigration(), accounts.ErrNotMigrating)
}

func TestRollbackDirectionMigration(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s, err := Install(raw, schema.PartitionedStable, testConfig())
	require.NoError(t, err)
	require.NoError(t, s.CreateToyAccounts(15))

	require.NoError(t, s.BeginMigration(schema.FlatSerialized))
	_, _, err = s.StepMigration(6)
	require.NoError(t, err)
	require.NoError(t, s.Persist())

	reloaded, err := Load(raw, testConfig())
	require.NoError(t, err)
	st, ok := reloaded.MigrationStatus()
	require.True(t, ok)
	assert.Equal(t, accounts.Rollback, st.Direction)
	assert.Equal(t, uint64(9), st.Remaining)

	for done := false; !done; {
		_, done, err = reloaded.StepMigration(6)
		require.NoError(t, err)
	}
	require.NoError(t, reloaded.CompleteMigration())
	assert.Equal(t, partition.KindLegacy, reloaded.Layout().Kind())

	again, err := Load(raw, testConfig())
	require.NoError(t, err)
	assert.Equal(t, schema.FlatSerialized, again.SchemaLabel())
	assert.Equal(t, partition.KindLegacy, again.Layout().Kind())
	requireSameAccounts(t, reloaded, again)
}

func TestInstall(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s, err := Install(raw, schema.FlatSerialized, testConfig())
	require.NoError(t, err)
	assert.Equal(t, partition.KindLegacy, s.Layout().Kind())

	_, err = Install(raw, schema.FlatSerialized, testConfig())
	assert.ErrorIs(t, err, ErrNotBlank)

	_, err = Install(memory.NewVectorMemory(0), schema.Label(5), testConfig())
	assert.ErrorIs(t, err, schema.ErrUnknownLabel)
}

func TestLoad_CorruptLabelIsFatal(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s, err := Install(raw, schema.PartitionedStable, testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Layout().Partitions().MustGet(partition.MetadataID).Write(0, []byte("BAD!")))

	_, err = Load(raw, testConfig())
	assert.ErrorIs(t, err, schema.ErrCorruptLabel)
}

func TestStats(t *testing.T) {
	s := New(memory.NewVectorMemory(0), testConfig())
	require.NoError(t, s.CreateToyAccounts(4))
	s.RecordExceptionalTransaction(1)
	s.IncrementPeriodicTasks()

	st := s.Stats(50)
	assert.Equal(t, "FlatSerialized", st.Schema)
	assert.Equal(t, uint64(4), st.AccountsCount)
	assert.Equal(t, uint32(1), st.ExceptionalTransactionsCount)
	require.NotNil(t, st.PeriodicTasksCount)
	assert.Equal(t, uint32(1), *st.PeriodicTasksCount)
	assert.Nil(t, st.Migration)

	require.NoError(t, s.BeginMigration(schema.PartitionedStable))
	st = s.Stats(50)
	require.NotNil(t, st.Migration)
	assert.Equal(t, uint64(4), st.Migration.Remaining)
	assert.Equal(t, uint64(1), st.Migration.Countdown)
	assert.Equal(t, "forward", st.Migration.Direction)
}

func TestReplace_SwapsAsOneUnit(t *testing.T) {
	raw := memory.NewVectorMemory(0)
	s := New(raw, testConfig())
	require.NoError(t, s.CreateToyAccounts(3))

	next := New(raw, testConfig())
	require.NoError(t, next.CreateToyAccounts(7))
	next.RecordExceptionalTransaction(5)

	s.Replace(next)
	assert.Equal(t, uint64(7), s.Stats(1).AccountsCount)
	assert.Equal(t, uint32(1), s.Stats(1).ExceptionalTransactionsCount)
	assert.Equal(t, partition.KindLegacy, s.Layout().Kind())
}
