// Package checkpoint defines the durable resume-position store.
package checkpoint

import "context"

// Store maps an input file identifier to the last offset known to be flushed.
type Store interface {
	// Load returns every stored offset. It returns an empty map when nothing
	// has been committed yet.
	Load(ctx context.Context) (map[string]int64, error)

	// Commit durably records offset for fileID before returning.
	// Offsets never regress: a commit below the stored offset is ignored.
	Commit(ctx context.Context, fileID string, offset int64) error

	// Reset removes the stored offset of fileID.
	Reset(ctx context.Context, fileID string) error

	// Close releases the store.
	Close() error
}
