// Package record provides the structured record encoding used for everything
// stablestate persists: accounts, performance counters, migration progress and
// the blobs that wrap them.
//
// Records are protobuf wire format written by hand through protowire, so no
// generated code is involved and unknown fields are skipped on decode. Blobs
// are framed by an [Envelope]:
//
//	Magic    (4 bytes)
//	Version  (4 bytes)
//	Checksum (4 bytes) - CRC32C of payload
//	Length   (8 bytes)
//	Payload  (Length bytes)
package record
