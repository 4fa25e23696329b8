package state

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/internal/resource"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/partition"
	"github.com/hupe1980/stablestate/perf"
	"github.com/hupe1980/stablestate/schema"
	"github.com/hupe1980/stablestate/stats"
)

// Config carries the collaborators a State needs.
type Config struct {
	Logger      *slog.Logger
	Registry    *schema.Registry
	BucketPages uint16
	CacheBytes  int64
	// Compaction is the account log compaction factor.
	Compaction uint64
	Resources  *resource.Controller
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Registry == nil {
		c.Registry = schema.NewRegistry()
	}
	if c.BucketPages == 0 {
		c.BucketPages = partition.DefaultBucketPages
	}
	if c.CacheBytes == 0 {
		c.CacheBytes = accounts.DefaultCacheBytes
	}
	if c.Compaction == 0 {
		c.Compaction = accounts.DefaultCompactionFactor
	}
	return c
}

// State owns the account store, the performance counts and the layout of
// raw memory.
type State struct {
	cfg    Config
	layout partition.Layout
	store  *accounts.Store
	perf   *perf.Counts
}

// New returns an empty flat state over raw without writing anything.
func New(raw memory.Memory, cfg Config) *State {
	return &State{
		cfg:    cfg.withDefaults(),
		layout: partition.Legacy(raw),
		store:  accounts.NewEmptyStore(),
		perf:   perf.New(),
	}
}

// Install creates an empty state for label on blank raw memory and persists
// it.
func Install(raw memory.Memory, label schema.Label, cfg Config) (*State, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Registry.Validate(label); err != nil {
		return nil, err
	}
	ok, err := blank(raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotBlank
	}

	s := New(raw, cfg)
	if label == schema.PartitionedStable {
		parts, err := partition.NewForSchema(raw, label, partition.WithBucketPages(cfg.BucketPages))
		if err != nil {
			return nil, err
		}
		db, err := s.openStable(parts)
		if err != nil {
			return nil, err
		}
		if s.store, err = accounts.NewStore(db); err != nil {
			return nil, err
		}
		s.layout = partition.Partitioned(parts)
	}
	if err := s.Persist(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reconstructs the state from whatever layout raw holds.
func Load(raw memory.Memory, cfg Config) (*State, error) {
	cfg = cfg.withDefaults()
	layout, err := partition.Detect(raw)
	if err != nil {
		return nil, err
	}
	if layout.Kind() == partition.KindPartitioned {
		return loadPartitioned(layout.Partitions(), cfg)
	}

	ok, err := blank(raw)
	if err != nil {
		return nil, err
	}
	if ok {
		return New(raw, cfg), nil
	}
	blob, err := readBlob(raw, legacyMagic)
	if err != nil {
		return nil, err
	}
	store, pc, err := DecodeLegacy(blob, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &State{cfg: cfg, layout: layout, store: store, perf: pc}, nil
}

func loadPartitioned(parts *partition.Partitions, cfg Config) (*State, error) {
	label, err := cfg.Registry.Authoritative(parts)
	if err != nil {
		return nil, err
	}

	img := &heapImage{}
	heap := parts.MustGet(partition.HeapID)
	if !isBlankMemory(heap) {
		blob, err := readBlob(heap, heapMagic)
		if err != nil {
			return nil, err
		}
		if img, err = decodeHeap(blob); err != nil {
			return nil, err
		}
	} else if label == schema.FlatSerialized {
		return nil, errors.Wrap(ErrCorruptState, "unlabeled partitions without a heap snapshot")
	}

	s := &State{cfg: cfg, layout: partition.Partitioned(parts)}
	pc, err := perf.UnmarshalLenient(img.perf)
	if err != nil {
		cfg.Logger.Warn("discarding unreadable performance counts", "error", err)
	}
	s.perf = pc
	counts := decodeCounts(img.counts, cfg.Logger)

	var source accounts.DB
	switch label {
	case schema.FlatSerialized:
		if img.snapshot == nil {
			return nil, errors.Wrap(ErrCorruptState, "flat schema without a map snapshot")
		}
		m, err := accounts.UnmarshalMapDB(img.snapshot)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptBlob, err)
		}
		source = m
	case schema.PartitionedStable:
		db, err := s.openStable(parts)
		if err != nil {
			return nil, err
		}
		source = db
	default:
		return nil, errors.AssertionFailedf("unhandled schema %s", label)
	}
	if s.store, err = accounts.RestoreStore(source, counts); err != nil {
		return nil, err
	}

	if mig := img.migration; mig != nil {
		if mig.Source != label {
			return nil, errors.Wrapf(ErrCorruptState, "migration from %s but %s is authoritative", mig.Source, label)
		}
		if err := s.resumeMigration(parts, mig, img.snapshot); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *State) resumeMigration(parts *partition.Partitions, mig *accounts.MigrationStatus, snapshot []byte) error {
	var target accounts.DB
	switch mig.Target {
	case schema.PartitionedStable:
		db, err := s.openStable(parts)
		if err != nil {
			return err
		}
		// Writes past the cursor may have reached the log after the cursor
		// was last persisted; the copy resumes from the cursor.
		if err := truncateAfter(db, mig.Cursor); err != nil {
			return err
		}
		target = db
	case schema.FlatSerialized:
		// A map target is persisted together with its cursor. The heap
		// snapshot slot holds the target only when the source is stable.
		m := accounts.NewMapDB()
		if snapshot != nil {
			var err error
			if m, err = accounts.UnmarshalMapDB(snapshot); err != nil {
				return fmt.Errorf("%w: %w", ErrCorruptBlob, err)
			}
		}
		if mig.Cursor == nil && m.Len() > 0 {
			return errors.Wrap(ErrCorruptState, "map target without cursor")
		}
		target = m
	default:
		return errors.Wrapf(schema.ErrUnknownLabel, "%s", mig.Target)
	}
	return s.store.ResumeMigration(target, mig.Cursor, mig.Exhausted)
}

func truncateAfter(db *accounts.StableDB, cursor *accounts.Key) error {
	if cursor == nil {
		return db.Reset()
	}
	var extra []accounts.Key
	if err := db.Range(cursor, 0, func(k accounts.Key, _ accounts.Account) error {
		extra = append(extra, k)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range extra {
		if _, err := db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func isBlankMemory(m memory.Memory) bool {
	ok, err := blank(m)
	return err == nil && ok
}

func (s *State) openStable(parts *partition.Partitions) (*accounts.StableDB, error) {
	return accounts.OpenStableDB(parts.MustGet(partition.AccountsID),
		accounts.WithCacheBytes(s.cfg.CacheBytes),
		accounts.WithCompactionFactor(s.cfg.Compaction),
		accounts.WithResourceController(s.cfg.Resources),
	)
}

// Layout returns the interpretation of raw memory.
func (s *State) Layout() partition.Layout {
	return s.layout
}

// Raw returns the raw memory.
func (s *State) Raw() memory.Memory {
	return s.layout.Raw()
}

// Logger returns the state's logger.
func (s *State) Logger() *slog.Logger {
	return s.cfg.Logger
}

// Registry returns the schema registry.
func (s *State) Registry() *schema.Registry {
	return s.cfg.Registry
}

// SchemaLabel returns the authoritative layout.
func (s *State) SchemaLabel() schema.Label {
	return s.store.Schema()
}

// Encode returns the legacy blob of a flat, idle state.
func (s *State) Encode() ([]byte, error) {
	m, ok := s.store.Authoritative().(*accounts.MapDB)
	if !ok || s.store.Migrating() {
		return nil, errors.AssertionFailedf("legacy encoding needs an idle flat state, have %s", s.store.Schema())
	}
	return EncodeLegacy(m, s.store.Counts(), s.perf)
}

// Decode replaces s with the state in a legacy blob.
func (s *State) Decode(b []byte) error {
	store, pc, err := DecodeLegacy(b, s.cfg.Logger)
	if err != nil {
		return err
	}
	s.Replace(&State{layout: s.layout, store: store, perf: pc})
	return nil
}

// Replace swaps in the layout, account store and performance counts of
// next as one unit. s keeps its configuration; next must not be used
// afterwards.
func (s *State) Replace(next *State) {
	s.layout, s.store, s.perf = next.layout, next.store, next.perf
}

// Persist writes the state in its layout: the legacy blob at raw offset 0,
// or the heap partition image.
func (s *State) Persist() error {
	if s.layout.Kind() == partition.KindLegacy {
		blob, err := s.Encode()
		if err != nil {
			return err
		}
		return writeBlob(s.layout.Raw(), blob)
	}
	if err := s.compact(); err != nil {
		return err
	}
	blob, err := s.encodeHeap()
	if err != nil {
		return err
	}
	return writeBlob(s.layout.Partitions().MustGet(partition.HeapID), blob)
}

func (s *State) compact() error {
	for _, db := range []accounts.DB{s.store.Authoritative(), s.store.Target()} {
		log, ok := db.(*accounts.StableDB)
		if !ok || !log.NeedsCompaction() {
			continue
		}
		before := log.LogBytes()
		if err := log.Compact(); err != nil {
			return errors.Wrap(err, "compact account log")
		}
		s.cfg.Logger.Info("compacted account log", "before", before, "after", log.LogBytes())
	}
	return nil
}

// Stats computes a snapshot. batch is the migration batch size used for the
// countdown.
func (s *State) Stats(batch int) stats.Stats {
	c := s.store.Counts()
	out := stats.Stats{
		Schema:                      s.store.Schema().String(),
		Layout:                      s.layout.Kind().String(),
		AccountsCount:               s.store.Len(),
		SubAccountsCount:            c.SubAccounts,
		HardwareWalletAccountsCount: c.HardwareWallets,
		PerformanceCounts:           s.perf.Samples(),
		StatsRecomputedOnUpgrade:    s.store.RecomputedOnUpgrade(),
		StableMemorySizeBytes:       memory.Bytes(s.layout.Raw()),
	}
	ex := len(s.perf.ExceptionalTransactions())
	out.ExceptionalTransactionsCount = uint32(min(ex, int(^uint32(0))))
	if n, ok := s.perf.PeriodicTasks(); ok {
		out.PeriodicTasksCount = &n
	}
	if st, ok := s.store.MigrationStatus(); ok {
		p := &stats.Progress{
			Source:    st.Source.String(),
			Target:    st.Target.String(),
			Direction: st.Direction.String(),
			Remaining: st.Remaining,
			Countdown: stats.Countdown(st.Remaining, batch),
		}
		if st.Cursor != nil {
			p.Cursor = st.Cursor.String()
		}
		out.Migration = p
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out.HeapSizeBytes = ms.HeapAlloc
	return out
}
