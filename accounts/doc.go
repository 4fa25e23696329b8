// Package accounts holds the engine's keyed dataset and its two storage
// representations.
//
//   - [MapDB] is an ordered in-heap map that is serialized wholesale at
//     every upgrade.
//   - [StableDB] appends every write to a log inside its own partition and
//     keeps only an index in the heap, so nothing needs re-serializing.
//
// A [Store] owns the authoritative representation and, while the layout
// is changing, the migration target together with the copy cursor.
// Reads always go to the authoritative representation.
package accounts
