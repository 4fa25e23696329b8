// Package s3 provides S3 implementations of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("archives/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	a := archive.New(store)
//
// # Features
//
//   - Range reads
//   - CRC32C checked uploads
//   - Automatic pagination for listing
//   - DDBCommitStore: a DynamoDB conditional write guards the CURRENT pointer
//     so concurrent archivers cannot overwrite each other silently
package s3
