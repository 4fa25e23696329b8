package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/stablestate"
	"github.com/hupe1980/stablestate/migration"
	"github.com/hupe1980/stablestate/schema"
)

var upgradeFlags struct {
	schema string
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <memory-file>",
	Short: "run a code-replacement event against a memory file",
	Long: `
  Persists and reconstructs the state, applying the requested schema.
  Without --schema the current layout is kept and a migration in progress
  continues.
`,
	Args: cobra.ExactArgs(1),
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().StringVar(&upgradeFlags.schema, "schema", "", "requested schema (flat or partitioned)")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	var req stablestate.Arguments
	if upgradeFlags.schema != "" {
		l, err := schema.ParseName(upgradeFlags.schema)
		if err != nil {
			return err
		}
		req.Schema = &l
	}

	return withEngine(cmd.Context(), args[0], func(eng *stablestate.Engine) error {
		if err := eng.Upgrade(cmd.Context(), req); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema: %s\nphase: %s\n", eng.Schema(), eng.Phase())
		return nil
	})
}

var tickFlags struct {
	n   int
	all bool
}

var tickCmd = &cobra.Command{
	Use:   "tick <memory-file>",
	Short: "copy migration batches",
	Args:  cobra.ExactArgs(1),
	RunE:  runTick,
}

func init() {
	tickCmd.Flags().IntVarP(&tickFlags.n, "n", "n", 1, "number of ticks")
	tickCmd.Flags().BoolVar(&tickFlags.all, "all", false, "tick until the migration completes")
}

func runTick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withEngine(ctx, args[0], func(eng *stablestate.Engine) error {
		copied := 0
		for i := 0; tickFlags.all || i < tickFlags.n; i++ {
			if eng.Phase() != migration.Migrating {
				break
			}
			res, err := eng.Tick(ctx)
			if err != nil {
				return err
			}
			copied += res.Copied
		}
		fmt.Fprintf(cmd.OutOrStdout(), "copied: %d\nschema: %s\nphase: %s\n", copied, eng.Schema(), eng.Phase())
		return nil
	})
}

var toyFlags struct {
	n uint64
}

var toyCmd = &cobra.Command{
	Use:   "toy <memory-file>",
	Short: "create generated accounts",
	Args:  cobra.ExactArgs(1),
	RunE:  runToy,
}

func init() {
	toyCmd.Flags().Uint64VarP(&toyFlags.n, "n", "n", 100, "number of accounts")
}

func runToy(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), args[0], func(eng *stablestate.Engine) error {
		if err := eng.CreateToyAccounts(toyFlags.n); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "accounts: %d\n", eng.Stats().AccountsCount)
		return nil
	})
}
