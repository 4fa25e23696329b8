package migration

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/schema"
	"github.com/hupe1980/stablestate/state"
)

const (
	// DefaultBatchSize is the number of accounts copied per tick.
	DefaultBatchSize = 50
	// MinBatchSize is the smallest allowed batch.
	MinBatchSize = 1
	// MaxBatchSize is the largest allowed batch.
	MaxBatchSize = 1000
)

// ErrInvalidBatchSize is returned for a batch size outside
// [MinBatchSize, MaxBatchSize].
var ErrInvalidBatchSize = errors.New("migration: invalid batch size")

// TickResult reports one tick.
type TickResult struct {
	Copied    int
	Remaining uint64
	Completed bool
}

// Observer is notified of migration events.
type Observer interface {
	OnMigrationStep(copied int, remaining uint64)
	OnMigrationComplete(target schema.Label)
	OnMigrationRollback(source schema.Label)
}

type noopObserver struct{}

func (noopObserver) OnMigrationStep(int, uint64)      {}
func (noopObserver) OnMigrationComplete(schema.Label) {}
func (noopObserver) OnMigrationRollback(schema.Label) {}

// Option configures a Controller.
type Option func(*Controller)

// WithBatchSize sets the number of accounts copied per tick.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		c.batchSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// Controller applies requests and ticks to a State.
type Controller struct {
	st        *state.State
	batchSize int
	phase     Phase
	logger    *slog.Logger
	observer  Observer
}

// New creates a controller for st. The phase is Migrating if st holds a
// migration and Idle otherwise.
func New(st *state.State, optFns ...Option) (*Controller, error) {
	c := &Controller{
		st:        st,
		batchSize: DefaultBatchSize,
		logger:    st.Logger(),
		observer:  noopObserver{},
	}
	for _, fn := range optFns {
		fn(c)
	}
	if c.batchSize < MinBatchSize || c.batchSize > MaxBatchSize {
		return nil, errors.Wrapf(ErrInvalidBatchSize, "%d not in [%d, %d]", c.batchSize, MinBatchSize, MaxBatchSize)
	}
	if _, ok := st.MigrationStatus(); ok {
		c.phase = Migrating
	}
	return c, nil
}

// Phase returns the controller phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// BatchSize returns the number of accounts copied per tick.
func (c *Controller) BatchSize() int {
	return c.batchSize
}

// Request applies the layout requested by a code-replacement event. An
// unknown layout fails with schema.ErrUnknownLabel before anything changes.
func (c *Controller) Request(ctx context.Context, requested *schema.Label) (Decision, error) {
	if requested != nil {
		if err := c.st.Registry().Validate(*requested); err != nil {
			return Noop, err
		}
	}

	current := c.st.SchemaLabel()
	var target *schema.Label
	if mig, ok := c.st.MigrationStatus(); ok {
		target = &mig.Target
	}

	d := Plan(current, target, requested)
	switch d {
	case Noop, Continue:
	case Start:
		if err := c.start(ctx, current, *requested); err != nil {
			return d, err
		}
	case Cancel:
		if err := c.cancel(ctx, current); err != nil {
			return d, err
		}
	case Redirect:
		if err := c.cancel(ctx, current); err != nil {
			return d, err
		}
		if err := c.start(ctx, current, *requested); err != nil {
			return d, err
		}
	}
	c.logger.InfoContext(ctx, "schema request applied",
		"decision", d.String(),
		"current", current.String(),
		"phase", c.phase.String(),
	)
	return d, nil
}

func (c *Controller) start(ctx context.Context, from, to schema.Label) error {
	if err := c.st.BeginMigration(to); err != nil {
		return errors.Wrapf(err, "start migration %s -> %s", from, to)
	}
	c.phase = Migrating
	c.logger.InfoContext(ctx, "migration started", "source", from.String(), "target", to.String())
	return nil
}

func (c *Controller) cancel(ctx context.Context, source schema.Label) error {
	if err := c.st.CancelMigration(); err != nil {
		return errors.Wrap(err, "cancel migration")
	}
	c.phase = RolledBack
	c.logger.InfoContext(ctx, "migration rolled back", "schema", source.String())
	c.observer.OnMigrationRollback(source)
	return nil
}

// Tick copies at most one batch and completes the migration when the
// source is exhausted. Without a migration it does nothing.
func (c *Controller) Tick(ctx context.Context) (TickResult, error) {
	if err := ctx.Err(); err != nil {
		return TickResult{}, err
	}
	if _, ok := c.st.MigrationStatus(); !ok {
		return TickResult{}, nil
	}

	copied, done, err := c.st.StepMigration(c.batchSize)
	if err != nil {
		return TickResult{Copied: copied}, err
	}
	res := TickResult{Copied: copied}
	if st, ok := c.st.MigrationStatus(); ok {
		res.Remaining = st.Remaining
	}
	c.logger.DebugContext(ctx, "migration step", "copied", copied, "remaining", res.Remaining)
	c.observer.OnMigrationStep(copied, res.Remaining)

	if done {
		if err := c.st.CompleteMigration(); err != nil {
			return res, errors.Wrap(err, "complete migration")
		}
		res.Completed = true
		res.Remaining = 0
		c.phase = Completed
		label := c.st.SchemaLabel()
		c.logger.InfoContext(ctx, "migration completed", "schema", label.String())
		c.observer.OnMigrationComplete(label)
	}
	return res, nil
}
