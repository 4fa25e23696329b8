// Package stablestate keeps an account dataset alive across code
// replacements and migrates it between two persistent layouts without
// downtime.
//
// # Layouts
//
// Raw persistent memory holds the state in one of two layouts:
//
//   - flat: the whole dataset serialized as one blob at offset 0, written
//     before every code replacement and read back afterwards
//   - partitioned: raw memory split into virtual memories for metadata,
//     heap data and an incremental account log, so the dataset no longer
//     has to be serialized in one piece
//
// The metadata partition carries the schema label naming the authoritative
// layout.
//
// # Quick Start
//
//	ctx := context.Background()
//	mem, _ := memory.OpenFile("./state.mem")
//	eng, _ := stablestate.Open(ctx, mem)
//
//	_ = eng.CreateToyAccounts(1000)
//
//	// A code replacement that asks for the partitioned layout.
//	target := schema.PartitionedStable
//	_ = eng.Upgrade(ctx, stablestate.Arguments{Schema: &target})
//
//	// The accounts are copied in small batches.
//	for eng.Phase() == migration.Migrating {
//	    _, _ = eng.Tick(ctx)
//	}
//
// Or drive ticks from a timer:
//
//	go eng.Run(ctx, time.Second)
//
// # Migrations
//
// A migration copies accounts in key order from the authoritative (source)
// representation to the target one. Writes always go to the source and are
// mirrored to the target once their key has been copied, so reads never
// observe a partial dataset. Requesting the source layout again cancels the
// migration; requesting a third layout redirects it. Both directions are
// supported, and an interrupted migration resumes after the next code
// replacement.
//
// # Failure Handling
//
// A code replacement that fails restores raw memory to its image right
// after the persist step and keeps the previous state:
//
//	if err := eng.Upgrade(ctx, args); errors.Is(err, stablestate.ErrUpgradeFailed) {
//	    // eng still serves the old state
//	}
//
// # Statistics
//
// Stats computes a snapshot on demand: account counts, migration progress
// with a tick countdown, performance samples and memory sizes.
//
// # Archives
//
// Archive checkpoints the state and writes raw memory, chunked and
// compressed, to any blobstore.BlobStore:
//
//	a := archive.New(blobstore.NewLocalStore("./backups"), archive.WithCompression(archive.CompressionZstd))
//	m, _ := eng.Archive(ctx, a)
package stablestate
