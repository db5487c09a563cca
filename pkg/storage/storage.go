// Package storage defines interfaces for archiving compacted shards.
//
// This package provides abstractions for uploading finished shard files to
// various storage backends (S3, GCS, Azure Blob, local filesystem).
package storage

import (
	"context"

	"github.com/jittakal/dumpshard/pkg/record"
)

// Uploader copies a local file to a storage backend.
type Uploader interface {
	// Upload stores the file at localPath under key.
	// Returns the number of bytes uploaded.
	Upload(ctx context.Context, localPath string, key string) (int64, error)

	// Backend returns the backend name used in logs and metrics.
	Backend() string

	// Close closes the uploader and releases resources.
	Close() error
}

// Router determines the object key of a shard.
type Router interface {
	// Route returns the object key for the compacted shard of a partition.
	Route(key record.PartitionKey) string
}
