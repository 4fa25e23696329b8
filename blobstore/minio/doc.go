// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works against MinIO and other S3-compatible servers (Ceph, Garage,
// SeaweedFS) without pulling in the AWS SDK.
//
// # Basic Usage
//
//	store, err := minio.Dial(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "backups",
//	    Prefix:    "node-1/",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	a := archive.New(store)
package minio
