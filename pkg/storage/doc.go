// Package storage defines the object storage contract behind file nodes.
//
// # Overview
//
// File bytes never live in the metadata database. Nodes hold an opaque storage
// key and every read, write, copy and delete goes through ObjectStore:
//
//	info, err := store.Put(ctx, key, body, "text/markdown")
//	// info.Size and info.Checksum (sha256 hex) are recorded on the node
//
// # Backends
//
//   - FileSystemStore: local directory, used for development and tests
//   - s3.Store: AWS S3 or any S3-compatible endpoint (aws-sdk-go-v2)
//   - minio.Store: MinIO through minio-go
//
// The S3 and MinIO backends also implement URLSigner, which bulk download jobs
// use to return a time-limited link instead of a raw key.
//
// # Database and Redis
//
// The postgres subpackage opens the pooled metadata database, runs the
// per-package migration sets and builds the shared Redis client.
//
// # Configuration
//
// Config carries the settings for all of the above. See pkg/config for the
// PORTALFS_* environment variables that populate it.
package storage
