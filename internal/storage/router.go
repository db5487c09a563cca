// Package storage archives compacted shards to object storage.
package storage

import (
	"path"
	"strings"

	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Router = (*DefaultRouter)(nil)

// DefaultRouter lays shards out as <base>/<YYYY-MM>/<category>.zst.
type DefaultRouter struct {
	basePath string
}

// NewRouter creates a new storage router. Leading and trailing slashes of
// basePath are ignored.
func NewRouter(basePath string) *DefaultRouter {
	return &DefaultRouter{basePath: strings.Trim(basePath, "/")}
}

// Route returns the object key for the compacted shard of key.
func (r *DefaultRouter) Route(key record.PartitionKey) string {
	name := key.Category + record.CompactedExt
	if r.basePath == "" {
		return path.Join(key.Period, name)
	}
	return path.Join(r.basePath, key.Period, name)
}

// KeyFromPath recovers the partition key of a compacted shard located under
// root. It reports false for files outside the <period>/<category>.zst layout.
func KeyFromPath(root, localPath string) (record.PartitionKey, bool) {
	return record.ParseShardPath(root, localPath, record.CompactedExt)
}
