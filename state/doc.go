// Package state is the working copy of the engine's persistent state: the
// account store with both representations and the migration cursor, the
// performance counts, and the interpretation of raw memory.
//
// Raw memory is in one of two layouts:
//
//   - legacy: one sealed blob at offset 0 holding the serialized account
//     map and the performance counts
//   - partitioned: a metadata partition with the schema label, an accounts
//     partition with the incremental log, and a heap partition with the
//     performance counts, the migration cursor and, while a map exists,
//     its serialized snapshot
//
// A State is not safe for concurrent use; the engine serializes access.
package state
