// Package schema enumerates the storage layouts the engine knows about and
// decides which one is authoritative.
//
// The active label lives in the first bytes of the metadata partition as a
// fixed-width record: a 4-byte magic followed by the label as a
// little-endian uint32. An all-zero record means the memory was never
// labeled, which implies the oldest layout ([FlatSerialized]).
package schema
