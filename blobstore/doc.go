// Package blobstore is the storage abstraction behind memory image archives.
//
// A BlobStore holds immutable named blobs:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// # Built-in Implementations
//
//   - MemoryStore: in-process, for tests
//   - LocalStore: a directory on the local file system, atomic via rename
//   - CachingStore: read-through LRU in front of any store
//   - s3.Store and s3.DDBCommitStore: Amazon S3, optionally with a DynamoDB
//     commit pointer
//   - minio.Store: MinIO and other S3-compatible servers
package blobstore
