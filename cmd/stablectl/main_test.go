package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestMigrateMemoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.mem")

	assert.Contains(t, execute(t, "toy", path, "-n", "12"), "accounts: 12")
	assert.Contains(t, execute(t, "--bucket-pages", "1", "upgrade", path, "--schema", "partitioned"), "phase: migrating")
	out := execute(t, "--batch-size", "5", "tick", path, "--all")
	assert.Contains(t, out, "copied: 12")
	assert.Contains(t, out, "schema: PartitionedStable")

	rootCmd.SetArgs(nil)
	rep, err := inspect(rootCmd, path)
	require.NoError(t, err)
	assert.Equal(t, "partitioned", rep.Layout)
	assert.Equal(t, "PartitionedStable", rep.Label)
	assert.Equal(t, uint64(1), rep.BucketPages)
	assert.Equal(t, uint64(12), rep.Stats.AccountsCount)
	assert.NotEmpty(t, rep.Partitions)
}

func TestArchiveSaveRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.mem")
	cfgPath := filepath.Join(dir, "stablectl.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"target: local\ncompression: lz4\nchunk_size: 65536\nlocal:\n  root: "+filepath.Join(dir, "archives")+"\n",
	), 0o600))

	execute(t, "toy", path, "-n", "30")
	assert.Contains(t, execute(t, "archive", "save", path, "--config", cfgPath), "archive: 1")

	restored := filepath.Join(dir, "restored.mem")
	assert.Contains(t, execute(t, "archive", "restore", restored, "--config", cfgPath), "restored: 1")

	rep, err := inspect(rootCmd, restored)
	require.NoError(t, err)
	assert.Equal(t, "legacy", rep.Layout)
	assert.Equal(t, uint64(30), rep.Stats.AccountsCount)
}

func TestLoadArchiveConfig_Defaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("local:\n  root: /tmp/x\n"), 0o600))

	cfg, err := loadArchiveConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Target)
	assert.Equal(t, "zstd", cfg.Compression)

	cfg.Target = "ftp"
	_, err = cfg.store(context.Background())
	assert.Error(t, err)
}
