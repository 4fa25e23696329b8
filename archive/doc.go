// Package archive keeps off-host copies of a persistent memory image.
//
// An archive is a set of chunk blobs plus a manifest:
//
//	ARCHIVE-000007.bin    manifest ("SARC" envelope, CRC32C)
//	chunks/000007/000000  chunk 0, compressed with none, lz4 or zstd
//	chunks/000007/000001  ...
//	CURRENT               name of the latest manifest
//
// All-zero chunks are recorded in the manifest only. Chunks are uploaded and
// fetched concurrently, bounded by a resource.Controller, and each one is
// verified against its CRC32C before the image is written back.
package archive
