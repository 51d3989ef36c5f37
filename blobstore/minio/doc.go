// Package minio provides a blobstore.Store implementation for MinIO and
// other S3-compatible object stores, used for durable checkpoint
// artifacts in self-hosted setups.
package minio
