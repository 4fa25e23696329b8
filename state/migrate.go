package state

import (
	"github.com/cockroachdb/errors"
	"github.com/hupe1980/stablestate/accounts"
	"github.com/hupe1980/stablestate/partition"
	"github.com/hupe1980/stablestate/schema"
)

// MigrationStatus describes the migration in progress, if any.
func (s *State) MigrationStatus() (accounts.MigrationStatus, bool) {
	return s.store.MigrationStatus()
}

// BeginMigration starts copying the dataset into an empty representation
// of target. Moving to the partitioned layout partitions raw memory at once
// and writes the heap image in the same call, replacing the legacy blob.
func (s *State) BeginMigration(target schema.Label) error {
	if err := s.cfg.Registry.Validate(target); err != nil {
		return err
	}
	if target == s.store.Schema() {
		return errors.AssertionFailedf("migration to the authoritative schema %s", target)
	}

	switch target {
	case schema.PartitionedStable:
		parts := s.layout.Partitions()
		if parts == nil {
			var err error
			parts, err = partition.New(s.layout.Raw(), partition.WithBucketPages(s.cfg.BucketPages))
			if err != nil {
				return errors.Wrap(err, "partition memory")
			}
		}
		db, err := s.openStable(parts)
		if err != nil {
			return err
		}
		if err := db.Reset(); err != nil {
			return err
		}
		if err := s.store.BeginMigration(db); err != nil {
			return err
		}
		s.layout = partition.Partitioned(parts)
		return s.Persist()
	case schema.FlatSerialized:
		return s.store.BeginMigration(accounts.NewMapDB())
	default:
		return errors.AssertionFailedf("unhandled schema %s", target)
	}
}

// StepMigration copies at most batch accounts.
func (s *State) StepMigration(batch int) (copied int, done bool, err error) {
	return s.store.StepMigration(batch)
}

// CancelMigration drops the migration target. The authoritative
// representation keeps serving; a cancelled move to the partitioned layout
// returns raw memory to the legacy layout.
func (s *State) CancelMigration() error {
	if s.store.CancelMigration() == nil {
		return accounts.ErrNotMigrating
	}
	if s.store.Schema() == schema.FlatSerialized && s.layout.Kind() == partition.KindPartitioned {
		s.layout = partition.Legacy(s.layout.Raw())
	}
	return s.Persist()
}

// CompleteMigration makes the target authoritative, commits its label and
// drops the source. When the label or the image cannot be written the
// migration stays in progress with its source authoritative, and a later
// call retries.
func (s *State) CompleteMigration() error {
	parts := s.layout.Partitions()
	if parts == nil {
		return errors.AssertionFailedf("migration completed without partitions")
	}
	sp, layout := s.store.Save(), s.layout
	source := s.store.Schema()
	if _, err := s.store.FinishMigration(); err != nil {
		return err
	}
	label := s.store.Schema()
	err := s.cfg.Registry.Commit(parts, label)
	if err == nil {
		if label == schema.FlatSerialized {
			s.layout = partition.Legacy(s.layout.Raw())
		}
		err = s.Persist()
	}
	if err == nil {
		return nil
	}

	s.store.Rewind(sp)
	s.layout = layout
	if rerr := s.cfg.Registry.Commit(parts, source); rerr != nil {
		err = errors.CombineErrors(err, errors.Wrap(rerr, "restore schema label"))
	}
	s.cfg.Logger.Warn("migration completion rolled back", "target", label.String(), "error", err)
	return err
}
