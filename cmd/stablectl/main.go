// Command stablectl inspects and operates on stable memory files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/hupe1980/stablestate"
	"github.com/hupe1980/stablestate/memory"
)

var globalFlags struct {
	logLevel    string
	jsonLogs    bool
	bucketPages uint16
	batchSize   int
}

var rootCmd = &cobra.Command{
	Use:           "stablectl",
	Short:         "inspect and migrate stable memory files",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalFlags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.BoolVar(&globalFlags.jsonLogs, "json-logs", false, "emit logs as JSON")
	pf.Uint16Var(&globalFlags.bucketPages, "bucket-pages", 0, "pages per partition bucket when partitioning (0 = default)")
	pf.IntVar(&globalFlags.batchSize, "batch-size", 0, "accounts copied per migration tick (0 = default)")

	rootCmd.AddCommand(inspectCmd, upgradeCmd, tickCmd, toyCmd, archiveCmd, runCmd)
}

func logger() (*stablestate.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(globalFlags.logLevel)); err != nil {
		return nil, errors.Newf("invalid --log-level %q", globalFlags.logLevel)
	}
	if globalFlags.jsonLogs {
		return stablestate.NewJSONLogger(level), nil
	}
	return stablestate.NewTextLogger(level), nil
}

func engineOptions(extra ...stablestate.Option) ([]stablestate.Option, error) {
	l, err := logger()
	if err != nil {
		return nil, err
	}
	opts := []stablestate.Option{stablestate.WithLogger(l.WithComponent("stablectl"))}
	if globalFlags.bucketPages > 0 {
		opts = append(opts, stablestate.WithBucketPages(globalFlags.bucketPages))
	}
	if globalFlags.batchSize > 0 {
		opts = append(opts, stablestate.WithBatchSize(globalFlags.batchSize))
	}
	return append(opts, extra...), nil
}

// withEngine opens the memory file at path, runs fn and checkpoints the
// state back into the file before closing it.
func withEngine(ctx context.Context, path string, fn func(*stablestate.Engine) error, extra ...stablestate.Option) error {
	mem, err := memory.OpenFile(path)
	if err != nil {
		return err
	}
	defer mem.Close()

	opts, err := engineOptions(extra...)
	if err != nil {
		return err
	}
	eng, err := stablestate.Open(ctx, mem, opts...)
	if err != nil {
		return err
	}
	if err := fn(eng); err != nil {
		return err
	}
	if err := eng.Checkpoint(ctx); err != nil {
		return err
	}
	return mem.Sync()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
