package stablestate

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/stablestate/schema"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides one backed by client_golang.
type MetricsCollector interface {
	// RecordUpgrade is called after each code-replacement event. err is nil
	// if the new state was accepted.
	RecordUpgrade(duration time.Duration, err error)

	// RecordTick is called after each migration tick that had work to do.
	RecordTick(copied int, remaining uint64, duration time.Duration, err error)

	// RecordMigrationComplete is called when a migration target becomes
	// authoritative.
	RecordMigrationComplete(target schema.Label)

	// RecordMigrationRollback is called when a migration is cancelled.
	RecordMigrationRollback(source schema.Label)

	// RecordCheckpoint is called after each checkpoint of the state into
	// raw memory.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpgrade(time.Duration, error)           {}
func (NoopMetricsCollector) RecordTick(int, uint64, time.Duration, error) {}
func (NoopMetricsCollector) RecordMigrationComplete(schema.Label)         {}
func (NoopMetricsCollector) RecordMigrationRollback(schema.Label)         {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	UpgradeCount       atomic.Int64
	UpgradeErrors      atomic.Int64
	UpgradeTotalNanos  atomic.Int64
	TickCount          atomic.Int64
	TickErrors         atomic.Int64
	TickTotalNanos     atomic.Int64
	AccountsCopied     atomic.Int64
	Remaining          atomic.Int64
	MigrationsComplete atomic.Int64
	MigrationRollbacks atomic.Int64
	CheckpointCount    atomic.Int64
	CheckpointErrors   atomic.Int64
}

// RecordUpgrade implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpgrade(duration time.Duration, err error) {
	b.UpgradeCount.Add(1)
	b.UpgradeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UpgradeErrors.Add(1)
	}
}

// RecordTick implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTick(copied int, remaining uint64, duration time.Duration, err error) {
	b.TickCount.Add(1)
	b.TickTotalNanos.Add(duration.Nanoseconds())
	b.AccountsCopied.Add(int64(copied))
	b.Remaining.Store(int64(remaining))
	if err != nil {
		b.TickErrors.Add(1)
	}
}

// RecordMigrationComplete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMigrationComplete(schema.Label) {
	b.MigrationsComplete.Add(1)
	b.Remaining.Store(0)
}

// RecordMigrationRollback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMigrationRollback(schema.Label) {
	b.MigrationRollbacks.Add(1)
	b.Remaining.Store(0)
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(_ time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		UpgradeCount:       b.UpgradeCount.Load(),
		UpgradeErrors:      b.UpgradeErrors.Load(),
		UpgradeAvgNanos:    avg(b.UpgradeTotalNanos.Load(), b.UpgradeCount.Load()),
		TickCount:          b.TickCount.Load(),
		TickErrors:         b.TickErrors.Load(),
		TickAvgNanos:       avg(b.TickTotalNanos.Load(), b.TickCount.Load()),
		AccountsCopied:     b.AccountsCopied.Load(),
		Remaining:          b.Remaining.Load(),
		MigrationsComplete: b.MigrationsComplete.Load(),
		MigrationRollbacks: b.MigrationRollbacks.Load(),
		CheckpointCount:    b.CheckpointCount.Load(),
		CheckpointErrors:   b.CheckpointErrors.Load(),
	}
}

// Reset clears all counters.
func (b *BasicMetricsCollector) Reset() {
	for _, c := range []*atomic.Int64{
		&b.UpgradeCount, &b.UpgradeErrors, &b.UpgradeTotalNanos,
		&b.TickCount, &b.TickErrors, &b.TickTotalNanos,
		&b.AccountsCopied, &b.Remaining,
		&b.MigrationsComplete, &b.MigrationRollbacks,
		&b.CheckpointCount, &b.CheckpointErrors,
	} {
		c.Store(0)
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	UpgradeCount       int64
	UpgradeErrors      int64
	UpgradeAvgNanos    int64
	TickCount          int64
	TickErrors         int64
	TickAvgNanos       int64
	AccountsCopied     int64
	Remaining          int64
	MigrationsComplete int64
	MigrationRollbacks int64
	CheckpointCount    int64
	CheckpointErrors   int64
}

// observer forwards migration events to a MetricsCollector.
type observer struct {
	mc MetricsCollector
}

func (o observer) OnMigrationStep(int, uint64) {}

func (o observer) OnMigrationComplete(target schema.Label) {
	o.mc.RecordMigrationComplete(target)
}

func (o observer) OnMigrationRollback(source schema.Label) {
	o.mc.RecordMigrationRollback(source)
}
