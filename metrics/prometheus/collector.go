// Package prometheus exports engine metrics through client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/stablestate"
	"github.com/hupe1980/stablestate/schema"
)

var _ stablestate.MetricsCollector = (*Collector)(nil)

// Collector implements stablestate.MetricsCollector.
type Collector struct {
	opLatency   *prometheus.HistogramVec
	upgrades    *prometheus.CounterVec
	ticks       *prometheus.CounterVec
	copied      prometheus.Counter
	remaining   prometheus.Gauge
	migrations  *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
}

// Option configures a Collector.
type Option func(*config)

type config struct {
	namespace string
	buckets   []float64
}

// WithNamespace prefixes every metric name. The default is "stablestate".
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithBuckets sets the latency histogram buckets in seconds.
func WithBuckets(b []float64) Option {
	return func(c *config) {
		c.buckets = b
	}
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer, optFns ...Option) (*Collector, error) {
	cfg := config{namespace: "stablestate", buckets: prometheus.DefBuckets}
	for _, fn := range optFns {
		fn(&cfg)
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of upgrades, ticks and checkpoints",
			Buckets:   cfg.buckets,
		}, []string{"op", "status"}),
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "upgrades_total",
			Help:      "Code-replacement events by outcome",
		}, []string{"status"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "migration_ticks_total",
			Help:      "Migration ticks by outcome",
		}, []string{"status"}),
		copied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "migration_accounts_copied_total",
			Help:      "Accounts copied into a migration target",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "migration_accounts_remaining",
			Help:      "Accounts left to copy in the migration in progress",
		}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "migrations_total",
			Help:      "Finished migrations by outcome and schema",
		}, []string{"outcome", "schema"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "checkpoints_total",
			Help:      "State checkpoints by outcome",
		}, []string{"status"}),
	}

	for _, m := range []prometheus.Collector{
		c.opLatency, c.upgrades, c.ticks, c.copied, c.remaining, c.migrations, c.checkpoints,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordUpgrade implements stablestate.MetricsCollector.
func (c *Collector) RecordUpgrade(d time.Duration, err error) {
	c.opLatency.WithLabelValues("upgrade", status(err)).Observe(d.Seconds())
	c.upgrades.WithLabelValues(status(err)).Inc()
}

// RecordTick implements stablestate.MetricsCollector.
func (c *Collector) RecordTick(copied int, remaining uint64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("tick", status(err)).Observe(d.Seconds())
	c.ticks.WithLabelValues(status(err)).Inc()
	c.copied.Add(float64(copied))
	c.remaining.Set(float64(remaining))
}

// RecordMigrationComplete implements stablestate.MetricsCollector.
func (c *Collector) RecordMigrationComplete(target schema.Label) {
	c.migrations.WithLabelValues("completed", target.String()).Inc()
	c.remaining.Set(0)
}

// RecordMigrationRollback implements stablestate.MetricsCollector.
func (c *Collector) RecordMigrationRollback(source schema.Label) {
	c.migrations.WithLabelValues("rolled_back", source.String()).Inc()
	c.remaining.Set(0)
}

// RecordCheckpoint implements stablestate.MetricsCollector.
func (c *Collector) RecordCheckpoint(d time.Duration, err error) {
	c.opLatency.WithLabelValues("checkpoint", status(err)).Observe(d.Seconds())
	c.checkpoints.WithLabelValues(status(err)).Inc()
}
