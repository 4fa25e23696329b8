// Package upgrade persists the state before a code-replacement event and
// reconstructs it afterwards.
package upgrade

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/memory"
	"github.com/hupe1980/stablestate/migration"
	"github.com/hupe1980/stablestate/schema"
	"github.com/hupe1980/stablestate/state"
)

// Config configures reconstruction.
type Config struct {
	State     state.Config
	Migration []migration.Option
}

// PreUpgrade writes st in whichever layout matches its authoritative
// schema, including the migration source and cursor when migrating.
func PreUpgrade(ctx context.Context, st *state.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := st.Persist(); err != nil {
		return errors.Wrap(err, "pre-upgrade")
	}
	st.Logger().InfoContext(ctx, "state persisted",
		"schema", st.SchemaLabel().String(),
		"layout", st.Layout().Kind().String(),
	)
	return nil
}

// Load reconstructs the state in raw without applying any request.
func Load(ctx context.Context, raw memory.Memory, cfg Config) (*state.State, *migration.Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	st, err := state.Load(raw, cfg.State)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load state")
	}
	ctl, err := migration.New(st, cfg.Migration...)
	if err != nil {
		return nil, nil, err
	}
	return st, ctl, nil
}

// PostUpgrade reconstructs the state and applies the requested schema,
// returning what the request decided. Any error aborts the event; the
// caller keeps its previous state.
func PostUpgrade(ctx context.Context, raw memory.Memory, requested *schema.Label, cfg Config) (*state.State, *migration.Controller, migration.Decision, error) {
	st, ctl, err := Load(ctx, raw, cfg)
	if err != nil {
		return nil, nil, migration.Noop, err
	}
	d, err := ctl.Request(ctx, requested)
	if err != nil {
		return nil, nil, d, errors.Wrap(err, "post-upgrade")
	}
	return st, ctl, d, nil
}

// Init installs an empty state on blank raw memory. Without a requested
// schema the oldest layout is used.
func Init(ctx context.Context, raw memory.Memory, requested *schema.Label, cfg Config) (*state.State, *migration.Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	label := schema.FlatSerialized
	if requested != nil {
		label = *requested
	}
	st, err := state.Install(raw, label, cfg.State)
	if err != nil {
		return nil, nil, errors.Wrap(err, "init")
	}
	ctl, err := migration.New(st, cfg.Migration...)
	if err != nil {
		return nil, nil, err
	}
	return st, ctl, nil
}
