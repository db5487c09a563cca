// Package source defines interfaces for reading records from dump files.
//
// This package provides abstractions for resumable record streams and for
// publishing lines that could not be decoded.
package source

import (
	"context"

	"github.com/jittakal/dumpshard/pkg/record"
)

// Stats counts what a source consumed and skipped.
type Stats struct {
	Records     int64
	Malformed   int64
	Invalid     int64
	Oversized   int64
	CodecErrors int64
}

// Skipped returns the number of lines that did not produce a record.
func (s Stats) Skipped() int64 {
	return s.Malformed + s.Invalid + s.Oversized + s.CodecErrors
}

// Source is a forward-only, resumable sequence of records from one file.
type Source interface {
	// Next returns the next record. It returns io.EOF at end of stream.
	// Malformed lines are skipped and never returned as errors.
	Next(ctx context.Context) (record.Record, error)

	// Offset returns the decoded stream offset consumed so far.
	// It is always a valid resume point when Next last returned a record.
	Offset() int64

	// Position returns raw bytes consumed from the underlying file and the file size.
	Position() (raw int64, size int64)

	// Stats returns counters for consumed and skipped lines.
	Stats() Stats

	// Close closes the source and releases resources.
	Close() error
}

// Opener opens a source for path positioned at startOffset.
type Opener func(path string, startOffset int64) (Source, error)

// DeadLetterPublisher publishes rejected input lines.
type DeadLetterPublisher interface {
	// Publish sends a rejection to the dead letter sink.
	Publish(ctx context.Context, rejection record.Rejection) error

	// Close closes the publisher and releases resources.
	Close() error
}
