// Package blobstore provides the storage abstraction behind checkpoint
// artifacts (chunk payloads, table snapshots, manifests).
//
// Store is the interface for reading and writing immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: local filesystem with mmap reads and atomic renames
//   - s3.Store: Amazon S3 with range reads and streaming uploads
//   - s3.DDBCommitStore: S3 plus DynamoDB for an atomic CURRENT pointer
//   - minio.Store: MinIO and other S3-compatible object stores
package blobstore
