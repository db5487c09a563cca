// Package encoder defines interfaces for encoding exported posts to file formats.
package encoder

import "github.com/jittakal/dumpshard/pkg/record"

// Encoder creates row writers for a specific file format.
type Encoder interface {
	// Create opens filePath for writing and returns a row writer.
	Create(filePath string) (RowWriter, error)

	// Format returns the file format this encoder produces.
	Format() record.FileFormat

	// FileExtension returns the file extension (e.g., ".csv", ".parquet").
	FileExtension() string
}

// RowWriter appends posts to an open export file.
type RowWriter interface {
	// Write appends posts to the file.
	Write(posts []record.Post) error

	// Close finalizes the file and returns its statistics.
	Close() (*record.FileStats, error)
}
