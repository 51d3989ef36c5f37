// Package s3 provides an Amazon S3 implementation of blobstore.Store,
// used for durable checkpoint artifacts.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(s3sdk.NewFromConfig(cfg), "my-bucket", "replay/")
//
// Features:
//
//   - Range reads for partial chunk fetches
//   - Streaming multipart uploads for large snapshots
//   - Automatic pagination for listing
//   - DDBCommitStore for an atomic CURRENT pointer across writers
package s3
