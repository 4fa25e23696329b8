package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/stablestate"
	"github.com/hupe1980/stablestate/memory"
)

var archiveFlags struct {
	config string
	id     uint64
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "save and restore memory files to a blob store",
}

var archiveSaveCmd = &cobra.Command{
	Use:   "save <memory-file>",
	Short: "checkpoint a memory file and upload it as a new archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveSave,
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore <memory-file>",
	Short: "overwrite a memory file with an archive",
	Long: `
  Downloads and verifies an archive, then overwrites the memory file with
  it. --id 0 restores the archive CURRENT points to.
`,
	Args: cobra.ExactArgs(1),
	RunE: runArchiveRestore,
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "list archives as YAML",
	Args:  cobra.NoArgs,
	RunE:  runArchiveList,
}

func init() {
	archiveCmd.PersistentFlags().StringVar(&archiveFlags.config, "config", "stablectl.yaml", "archive configuration file")
	archiveRestoreCmd.Flags().Uint64Var(&archiveFlags.id, "id", 0, "archive id (0 = current)")
	archiveCmd.AddCommand(archiveSaveCmd, archiveRestoreCmd, archiveListCmd)
}

func runArchiveSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadArchiveConfig(archiveFlags.config)
	if err != nil {
		return err
	}
	a, err := cfg.archiver(ctx)
	if err != nil {
		return err
	}

	return withEngine(ctx, args[0], func(eng *stablestate.Engine) error {
		m, err := eng.Archive(ctx, a)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archive: %d\nimage_bytes: %d\nstored_bytes: %d\n", m.ID, m.ImageSize, m.StoredBytes())
		if cfg.Keep > 0 {
			pruned, err := a.Prune(ctx, cfg.Keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned: %v\n", pruned)
		}
		return nil
	})
}

func runArchiveRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadArchiveConfig(archiveFlags.config)
	if err != nil {
		return err
	}
	a, err := cfg.archiver(ctx)
	if err != nil {
		return err
	}

	mem, err := memory.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer mem.Close()

	m, err := a.Restore(ctx, mem, archiveFlags.id)
	if err != nil {
		return err
	}
	if err := mem.Sync(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored: %d\n", m.ID)
	return nil
}

type archiveEntry struct {
	ID          uint64 `yaml:"id"`
	CreatedAt   string `yaml:"created_at"`
	ImageBytes  uint64 `yaml:"image_bytes"`
	StoredBytes uint64 `yaml:"stored_bytes"`
	Compression string `yaml:"compression"`
	Chunks      int    `yaml:"chunks"`
}

func runArchiveList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadArchiveConfig(archiveFlags.config)
	if err != nil {
		return err
	}
	a, err := cfg.archiver(ctx)
	if err != nil {
		return err
	}
	ms, err := a.List(ctx)
	if err != nil {
		return err
	}
	out := make([]archiveEntry, 0, len(ms))
	for _, m := range ms {
		out = append(out, archiveEntry{
			ID:          m.ID,
			CreatedAt:   m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			ImageBytes:  m.ImageSize,
			StoredBytes: m.StoredBytes(),
			Compression: m.Compression.String(),
			Chunks:      len(m.Chunks),
		})
	}
	return yaml.NewEncoder(os.Stdout).Encode(out)
}
