// Package stats defines the pull-style statistics snapshot of the engine.
// Snapshots are computed on demand and never cached.
package stats

import (
	"github.com/hupe1980/stablestate/perf"
)

// Progress describes a migration in progress.
type Progress struct {
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Direction string `yaml:"direction"`
	// Remaining is the number of accounts not yet copied.
	Remaining uint64 `yaml:"remaining"`
	// Countdown is the number of ticks expected until completion.
	Countdown uint64 `yaml:"countdown"`
	Cursor    string `yaml:"cursor,omitempty"`
}

// Stats is a snapshot of the engine state.
type Stats struct {
	Schema                       string        `yaml:"schema"`
	Layout                       string        `yaml:"layout"`
	AccountsCount                uint64        `yaml:"accounts_count"`
	SubAccountsCount             uint64        `yaml:"sub_accounts_count"`
	HardwareWalletAccountsCount  uint64        `yaml:"hardware_wallet_accounts_count"`
	Migration                    *Progress     `yaml:"migration,omitempty"`
	PerformanceCounts            []perf.Sample `yaml:"performance_counts,omitempty"`
	ExceptionalTransactionsCount uint32        `yaml:"exceptional_transactions_count"`
	PeriodicTasksCount           *uint32       `yaml:"periodic_tasks_count,omitempty"`
	StatsRecomputedOnUpgrade     bool          `yaml:"stats_recomputed_on_upgrade"`
	StableMemorySizeBytes        uint64        `yaml:"stable_memory_size_bytes"`
	HeapSizeBytes                uint64        `yaml:"heap_size_bytes"`
}

// Countdown returns the number of batches of size batch needed to copy
// remaining entries, plus the final batch that observes the end of the
// keyspace.
func Countdown(remaining uint64, batch int) uint64 {
	if batch <= 0 {
		batch = 1
	}
	return remaining/uint64(batch) + 1
}

// Invariant returns a copy with the fields that legitimately change across
// upgrades and migrations cleared, for comparing two engines that hold the
// same data.
func (s Stats) Invariant() Stats {
	s.Schema = ""
	s.Layout = ""
	s.Migration = nil
	s.PerformanceCounts = nil
	s.PeriodicTasksCount = nil
	s.StatsRecomputedOnUpgrade = false
	s.StableMemorySizeBytes = 0
	s.HeapSizeBytes = 0
	return s
}
