package stablestate

import (
	"log/slog"
	"time"

	"github.com/hupe1980/stablestate/internal/resource"
	"github.com/hupe1980/stablestate/migration"
)

// Counter returns a monotonically increasing instruction-style counter. It
// is recorded next to every performance sample.
type Counter func() uint64

type options struct {
	batchSize        int
	bucketPages      uint16
	cacheBytes       int64
	compaction       uint64
	metricsCollector MetricsCollector
	logger           *Logger
	resources        *resource.Controller
	clock            func() time.Time
	counter          Counter
}

// Option configures Install and Open.
type Option func(*options)

// WithBatchSize sets the number of accounts one tick copies. It must be in
// [migration.MinBatchSize, migration.MaxBatchSize].
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithBucketPages sets the pages per partition bucket used when raw memory
// is partitioned. It only matters for memory that is not partitioned yet.
func WithBucketPages(pages uint16) Option {
	return func(o *options) {
		o.bucketPages = pages
	}
}

// WithCacheBytes bounds the read cache of the partitioned account log.
func WithCacheBytes(n int64) Option {
	return func(o *options) {
		o.cacheBytes = n
	}
}

// WithCompactionFactor sets how many times larger than its live records the
// account log may grow before a checkpoint compacts it.
func WithCompactionFactor(f uint64) Option {
	return func(o *options) {
		o.compaction = f
	}
}

// WithResourceController shares memory limits across engines.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &stablestate.BasicMetricsCollector{}
//	eng, _ := stablestate.Open(ctx, mem, stablestate.WithMetricsCollector(metrics))
//	// ... use eng ...
//	fmt.Printf("ticks: %d\n", metrics.GetStats().TickCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithClock overrides the wall clock used for performance samples.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithCounter overrides the counter recorded with performance samples. By
// default a per-engine sequence is used.
func WithCounter(c Counter) Option {
	return func(o *options) {
		o.counter = c
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		batchSize:        migration.DefaultBatchSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		clock:            time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
