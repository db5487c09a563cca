// Package shard defines interfaces for partitioned shard writing.
//
// Shards are append-only files, one per partition key, that receive the raw
// lines of every record classified into that key.
package shard

import "github.com/jittakal/dumpshard/pkg/record"

// Writer buffers lines per partition key and flushes them to shard files.
// All implementations must be thread-safe. Appends to different keys must not
// block each other; appends to the same key are serialized.
type Writer interface {
	// Append adds one line to the buffer of key.
	// It may flush the buffer when the flush threshold is reached.
	Append(key record.PartitionKey, line []byte) error

	// Flush writes the buffers of the given keys to their shard files.
	// A failed flush keeps the buffer for a later retry.
	Flush(keys ...record.PartitionKey) error

	// FlushAll writes every non-empty buffer.
	FlushAll() error

	// Close flushes every buffer and releases every file handle.
	Close() error
}
