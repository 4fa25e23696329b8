// Package memory provides the flat, page-granular persistent address space
// that everything else is laid out in.
//
// A Memory starts empty and only ever grows in whole pages of [PageSize]
// bytes, mirroring a virtual machine's stable memory. Two implementations
// are provided:
//
//   - [VectorMemory]: process memory, used by tests and ephemeral hosts
//   - [FileMemory]: a file opened with positioned I/O and an exclusive lock
//
// The host snapshots a memory with [Image] before a code-replacement event
// and uses [Restore] to put it back if the event fails.
package memory
