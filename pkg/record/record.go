// Package record defines the core data types shared by the partition pipeline.
//
// A Record is one decoded line of a dump file. The Classifier turns it into a
// PartitionKey, the Coordinator groups classified lines into Batches, and the
// ShardedWriter appends each line to the shard identified by its key.
package record

import (
	"path/filepath"
	"strings"
	"time"
)

// Shard file extensions.
const (
	ShardExt     = ".jsonl"
	CompactedExt = ".zst"
)

// PeriodLayout is the time layout of a partition period label.
const PeriodLayout = "2006-01"

// Record is one decoded line from a dump file.
// Raw holds the line without its trailing newline and is owned by the record.
type Record struct {
	Raw        []byte
	Subreddit  string
	CreatedUTC int64
	ID         string

	// EndOffset is the decoded stream offset immediately after this line.
	EndOffset int64
}

// Period returns the calendar-month label of the record.
func (r Record) Period() string {
	return Period(r.CreatedUTC)
}

// Period converts UTC epoch seconds to a YYYY-MM label.
func Period(createdUTC int64) string {
	return time.Unix(createdUTC, 0).UTC().Format(PeriodLayout)
}

// PartitionKey identifies one output shard.
type PartitionKey struct {
	Period   string
	Category string
}

// String returns the key in the form "period/category".
func (k PartitionKey) String() string {
	return k.Period + "/" + k.Category
}

// Path returns the shard path under root with the given extension.
func (k PartitionKey) Path(root, ext string) string {
	return filepath.Join(root, k.Period, k.Category+ext)
}

// ParseShardPath is the inverse of Path. It reports false for files outside
// the <period>/<category><ext> layout under root.
func ParseShardPath(root, path, ext string) (PartitionKey, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return PartitionKey{}, false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !strings.HasSuffix(parts[1], ext) {
		return PartitionKey{}, false
	}
	if _, err := time.Parse(PeriodLayout, parts[0]); err != nil {
		return PartitionKey{}, false
	}

	category := strings.TrimSuffix(parts[1], ext)
	if category == "" {
		return PartitionKey{}, false
	}
	return PartitionKey{Period: parts[0], Category: category}, true
}

// Entry is a classified line ready to be appended to its shard.
type Entry struct {
	Key  PartitionKey
	Line []byte
}

// Batch is a run of consecutive records consumed from one source file.
// Consumed counts every record read into the batch, admitted or not,
// and Offset is the decoded offset right after the last of them.
type Batch struct {
	FileID   string
	Seq      int64
	Entries  []Entry
	Consumed int
	Offset   int64
}

// Empty reports whether the batch carries no admitted entries.
func (b *Batch) Empty() bool {
	return len(b.Entries) == 0
}

// Rejection describes an input line that could not be turned into a record.
type Rejection struct {
	Path   string    `json:"path"`
	Offset int64     `json:"offset"`
	Reason string    `json:"reason"`
	Line   string    `json:"line,omitempty"`
	Time   time.Time `json:"time"`
}

// FileStats contains statistics about a written file.
type FileStats struct {
	RecordCount int
	SizeBytes   int64
}

// FileFormat represents an export file format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// Post is the flattened row written by search exports.
type Post struct {
	ID           string
	Title        string
	Text         string
	CommentCount int64
	URL          string
	CreatedUTC   int64
	Author       string
	Subreddit    string
}

// PostDateLayout is the layout used for exported post dates.
const PostDateLayout = "2006-01-02 15:04:05"

// Date returns the creation time of the post formatted for export.
func (p Post) Date() string {
	return time.Unix(p.CreatedUTC, 0).UTC().Format(PostDateLayout)
}
