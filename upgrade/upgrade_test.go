package upgrade

import (
	"context"
	"testing"

	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/migration"
	"github.com/hupe1980/stablestate/partition"
	"github.com/hupe1980/stablestate/schema"
	"github.com/hupe1980/stablestate/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg() Config {
	return Config{
		State:     state.Config{BucketPages: 1},
		Migration: []migration.Option{migration.WithBatchSize(10)},
	}
}

func ptr(l schema.Label) *schema.Label { return &l }

func TestUpgradeCycle(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewVectorMemory(0)

	st, _, err := Init(ctx, raw, nil, cfg())
	require.NoError(t, err)
	require.NoError(t, st.CreateToyAccounts(25))
	require.NoError(t, PreUpgrade(ctx, st))

	st, ctl, _, err := PostUpgrade(ctx, raw, ptr(schema.PartitionedStable), cfg())
	require.NoError(t, err)
	assert.Equal(t, migration.Migrating, ctl.Phase())
	_, err = ctl.Tick(ctx)
	require.NoError(t, err)

	// Upgrade mid-migration without a request keeps migrating.
	require.NoError(t, PreUpgrade(ctx, st))
	st, ctl, _, err = PostUpgrade(ctx, raw, nil, cfg())
	require.NoError(t, err)
	assert.Equal(t, migration.Migrating, ctl.Phase())
	assert.Equal(t, schema.FlatSerialized, st.SchemaLabel())

	for ctl.Phase() == migration.Migrating {
		_, err := ctl.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, schema.PartitionedStable, st.SchemaLabel())
	assert.Equal(t, uint64(25), st.Stats(10).AccountsCount)

	require.NoError(t, PreUpgrade(ctx, st))
	st, ctl, _, err = PostUpgrade(ctx, raw, ptr(schema.PartitionedStable), cfg())
	require.NoError(t, err)
	assert.Equal(t, migration.Idle, ctl.Phase())
	assert.Equal(t, partition.KindPartitioned, st.Layout().Kind())
	assert.Equal(t, uint64(25), st.Stats(10).AccountsCount)
}

func TestPostUpgrade_UnknownSchemaAborts(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewVectorMemory(0)
	st, _, err := Init(ctx, raw, nil, cfg())
	require.NoError(t, err)
	require.NoError(t, PreUpgrade(ctx, st))

	_, _, _, err = PostUpgrade(ctx, raw, ptr(schema.Label(3)), cfg())
	assert.ErrorIs(t, err, schema.ErrUnknownLabel)
}

func TestInit_Partitioned(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewVectorMemory(0)
	st, ctl, err := Init(ctx, raw, ptr(schema.PartitionedStable), cfg())
	require.NoError(t, err)
	assert.Equal(t, migration.Idle, ctl.Phase())
	assert.Equal(t, schema.PartitionedStable, st.SchemaLabel())

	st2, _, err := Load(ctx, raw, cfg())
	require.NoError(t, err)
	assert.Equal(t, schema.PartitionedStable, st2.SchemaLabel())
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Init(ctx, memory.NewVectorMemory(0), nil, cfg())
	assert.ErrorIs(t, err, context.Canceled)
}
