// Package hash provides the CRC32-Castagnoli checksum every persisted
// structure is sealed with: legacy and heap blobs, stable account records,
// archive chunks and manifests. S3 uploads send the same checksum in
// base64 form.
package hash
