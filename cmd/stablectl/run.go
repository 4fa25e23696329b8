package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/stablestate"
	promcollector "github.com/hupe1980/stablestate/metrics/prometheus"
)

var runFlags struct {
	interval    time.Duration
	metricsAddr string
}

var runCmd = &cobra.Command{
	Use:   "run <memory-file>",
	Short: "drive the migration from a timer until interrupted",
	Long: `
  Opens the memory file and ticks the migration in progress every
  --interval, counting each tick as a periodic task. With --metrics-addr
  the engine metrics are served on /metrics. The state is checkpointed
  into the file on SIGINT or SIGTERM.
`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runFlags.interval, "interval", time.Second, "tick interval")
	runCmd.Flags().StringVar(&runFlags.metricsAddr, "metrics-addr", "", "listen address for the metrics endpoint")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	collector, err := promcollector.NewCollector(reg)
	if err != nil {
		return err
	}

	if runFlags.metricsAddr != "" {
		srv := &http.Server{
			Addr:              runFlags.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() { _ = srv.ListenAndServe() }()
		defer srv.Close()
	}

	// The checkpoint after Run must not see the cancelled context.
	return withEngine(context.WithoutCancel(ctx), args[0], func(eng *stablestate.Engine) error {
		err := eng.Run(ctx, runFlags.interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}, stablestate.WithMetricsCollector(collector))
}
