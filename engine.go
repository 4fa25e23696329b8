package stablestate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/archive"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/migration"
	"github.com/hupe1980/stablestate/perf"
	"github.com/hupe1980/stablestate/schema"
	"github.com/hupe1980/stablestate/state"
	"github.com/hupe1980/stablestate/stats"
	"github.com/hupe1980/stablestate/upgrade"
)

// Arguments are supplied by a code-replacement event.
type Arguments struct {
	// Schema is the requested layout. nil asks for nothing: the current
	// layout is kept and a migration in progress continues.
	Schema *schema.Label
}

// Engine owns the persistent state on one raw memory and serializes every
// operation on it.
type Engine struct {
	mu   sync.Mutex
	opts options
	raw  memory.Memory
	st   *state.State
	ctl  *migration.Controller
	seq  atomic.Uint64
}

// Install creates the state on blank raw memory in the requested layout, or
// the oldest known layout when args.Schema is nil.
func Install(ctx context.Context, raw memory.Memory, args Arguments, optFns ...Option) (*Engine, error) {
	e := newEngine(raw, optFns)
	st, ctl, err := upgrade.Init(ctx, raw, args.Schema, e.upgradeConfig())
	if err != nil {
		return nil, translateError(err, args.Schema)
	}
	e.st, e.ctl = st, ctl
	e.opts.logger.InfoContext(ctx, "state installed", "schema", st.SchemaLabel().String())
	return e, nil
}

// Open reconstructs the state persisted in raw without requesting a layout.
// Blank memory yields an empty flat state.
func Open(ctx context.Context, raw memory.Memory, optFns ...Option) (*Engine, error) {
	e := newEngine(raw, optFns)
	st, ctl, err := upgrade.Load(ctx, raw, e.upgradeConfig())
	if err != nil {
		return nil, translateError(err, nil)
	}
	e.st, e.ctl = st, ctl
	e.opts.logger.InfoContext(ctx, "state opened",
		"schema", st.SchemaLabel().String(),
		"phase", ctl.Phase().String(),
	)
	return e, nil
}

func newEngine(raw memory.Memory, optFns []Option) *Engine {
	e := &Engine{opts: applyOptions(optFns), raw: raw}
	if e.opts.counter == nil {
		e.opts.counter = func() uint64 { return e.seq.Add(1) }
	}
	return e
}

func (e *Engine) upgradeConfig() upgrade.Config {
	return upgrade.Config{
		State: state.Config{
			Logger:      e.opts.logger.Logger,
			BucketPages: e.opts.bucketPages,
			CacheBytes:  e.opts.cacheBytes,
			Compaction:  e.opts.compaction,
			Resources:   e.opts.resources,
		},
		Migration: []migration.Option{
			migration.WithBatchSize(e.opts.batchSize),
			migration.WithLogger(e.opts.logger.Logger),
			migration.WithObserver(observer{mc: e.opts.metricsCollector}),
		},
	}
}

// Schema returns the authoritative layout.
func (e *Engine) Schema() schema.Label {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.SchemaLabel()
}

// Phase returns the migration phase.
func (e *Engine) Phase() migration.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctl.Phase()
}

// PreUpgrade writes the state into raw memory ahead of a code-replacement
// event. The engine stays usable; any later mutation needs another
// PreUpgrade before the event.
func (e *Engine) PreUpgrade(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return upgrade.PreUpgrade(ctx, e.st)
}

// Upgrade runs a complete code-replacement event in place: the state is
// persisted, reconstructed from raw memory and the requested layout is
// applied. If any step fails raw memory is put back as it was after the
// persist and the engine keeps its previous state.
func (e *Engine) Upgrade(ctx context.Context, args Arguments) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	from := e.st.SchemaLabel()
	decision := migration.Noop
	defer func() {
		e.opts.metricsCollector.RecordUpgrade(time.Since(start), err)
		to := from
		if err == nil {
			to = e.st.SchemaLabel()
		}
		e.opts.logger.LogUpgrade(ctx, from, to, decision, time.Since(start), err)
	}()

	if err := upgrade.PreUpgrade(ctx, e.st); err != nil {
		return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
	}
	img, err := memory.Image(e.raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpgradeFailed, err)
	}

	st, ctl, d, err := upgrade.PostUpgrade(ctx, e.raw, args.Schema, e.upgradeConfig())
	decision = d
	if err != nil {
		if rerr := memory.Restore(e.raw, img); rerr != nil {
			err = errors.CombineErrors(err, errors.Wrap(rerr, "restore memory image"))
		}
		return fmt.Errorf("%w: %w", ErrUpgradeFailed, translateError(err, args.Schema))
	}

	e.st, e.ctl = st, ctl
	return nil
}

// Tick copies one batch of the migration in progress and completes it when
// the source is exhausted. Without a migration it does nothing.
func (e *Engine) Tick(ctx context.Context) (migration.TickResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) (migration.TickResult, error) {
	if _, ok := e.st.MigrationStatus(); !ok {
		return migration.TickResult{}, ctx.Err()
	}
	start := time.Now()
	res, err := e.ctl.Tick(ctx)
	e.opts.metricsCollector.RecordTick(res.Copied, res.Remaining, time.Since(start), err)
	e.opts.logger.LogTick(ctx, res, err)
	return res, err
}

// Run ticks every interval until ctx is done, counting each tick as a
// periodic task. It returns ctx.Err() or the first tick error.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		e.mu.Lock()
		e.st.IncrementPeriodicTasks()
		_, err := e.tick(ctx)
		e.mu.Unlock()
		if err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
	}
}

// Stats computes a statistics snapshot.
func (e *Engine) Stats() stats.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Stats(e.ctl.BatchSize())
}

// RecordPerformance adds a sample stamped with the clock and the counter.
func (e *Engine) RecordPerformance(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.RecordSample(perf.Sample{
		TimestampNs: uint64(e.opts.clock().UnixNano()),
		Name:        name,
		Counter:     e.opts.counter(),
	})
}

// RecordExceptionalTransaction remembers a transaction id for later
// inspection.
func (e *Engine) RecordExceptionalTransaction(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.RecordExceptionalTransaction(id)
}

// IncrementPeriodicTasks counts a run of the periodic task.
func (e *Engine) IncrementPeriodicTasks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.IncrementPeriodicTasks()
}

// Checkpoint writes the state into raw memory so that a copy of raw memory
// taken afterwards is self-contained.
func (e *Engine) Checkpoint(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpoint(ctx)
}

func (e *Engine) checkpoint(ctx context.Context) error {
	start := time.Now()
	err := upgrade.PreUpgrade(ctx, e.st)
	e.opts.metricsCollector.RecordCheckpoint(time.Since(start), err)
	e.opts.logger.LogCheckpoint(ctx, e.st.SchemaLabel(), err)
	return err
}

// Archive checkpoints the state and saves raw memory with a.
func (e *Engine) Archive(ctx context.Context, a *archive.Archiver) (*archive.Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkpoint(ctx); err != nil {
		return nil, err
	}
	m, err := a.Save(ctx, e.raw)
	if err != nil {
		e.opts.logger.LogArchive(ctx, 0, 0, err)
		return nil, err
	}
	e.opts.logger.LogArchive(ctx, m.ID, m.StoredBytes(), nil)
	return m, nil
}

// Account returns the account stored under key.
func (e *Engine) Account(key accounts.Key) (accounts.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok, err := e.st.GetAccount(key)
	if err != nil {
		return accounts.Account{}, translateError(err, nil)
	}
	if !ok {
		return accounts.Account{}, errors.Wrapf(ErrNotFound, "account %s", key)
	}
	return a, nil
}

// RangeAccounts calls fn for up to limit accounts with keys after after, in
// key order. A nil after starts at the first key; limit <= 0 means all.
func (e *Engine) RangeAccounts(after *accounts.Key, limit int, fn func(accounts.Key, accounts.Account) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return translateError(e.st.RangeAccounts(after, limit, fn), nil)
}

// CreateAccount creates an empty account.
func (e *Engine) CreateAccount(key accounts.Key, principal string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return translateError(e.st.CreateAccount(key, principal), nil)
}

// AddSubAccount adds a named sub-account and returns its index.
func (e *Engine) AddSubAccount(key accounts.Key, name string) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, err := e.st.AddSubAccount(key, name)
	return idx, translateError(err, nil)
}

// RegisterHardwareWallet links a hardware wallet to the account.
func (e *Engine) RegisterHardwareWallet(key accounts.Key, name, principal string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return translateError(e.st.RegisterHardwareWallet(key, name, principal), nil)
}

// AttachCanister records a canister on the account.
func (e *Engine) AttachCanister(key accounts.Key, name, canisterID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return translateError(e.st.AttachCanister(key, name, canisterID), nil)
}

// RemoveAccount deletes the account.
func (e *Engine) RemoveAccount(key accounts.Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return translateError(e.st.RemoveAccount(key), nil)
}

// CreateToyAccounts adds n generated accounts after the existing ones.
func (e *Engine) CreateToyAccounts(n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return translateError(e.st.CreateToyAccounts(n), nil)
}
