// Package blobstore stores checkpoints and exported models.
//
// A [BlobStore] holds immutable named blobs. Writes are whole-blob and atomic;
// reads go through a [Blob] handle with context-aware ReadAt.
//
// # Implementations
//
//   - [LocalStore]: a directory, written via temp file, fsync and rename
//   - [MemoryStore]: in-process map, for tests
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with multipart uploads
package blobstore
