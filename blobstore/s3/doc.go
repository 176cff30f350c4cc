// Package s3 provides an S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("snapshots/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	rt, err := shmmap.New(shmmap.WithSnapshotStore(store))
//
// # Features
//
//   - Single checksummed PutObject for small snapshots, multipart above
//     UploadConfig.PartSize
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - DDBCommitStore: conditional DynamoDB writes publish the latest
//     snapshot name under CurrentName
package s3
