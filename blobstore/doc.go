// Package blobstore provides the storage abstraction snapshots are written to.
//
// Store is a flat namespace of immutable blobs. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and short-lived tooling
//   - LocalStore: local filesystem with atomic rename on write
//   - s3.Store: Amazon S3 with multipart uploads and CRC32C checksums
//   - s3.DDBCommitStore: S3 plus a DynamoDB-backed "CURRENT" pointer
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type Store interface {
//	    Put(ctx, name, data) error
//	    Get(ctx, name) ([]byte, error)
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Stores that can stream large blobs also implement Creator.
package blobstore
