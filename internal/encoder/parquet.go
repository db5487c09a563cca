package encoder

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/dumpshard/pkg/encoder"
	"github.com/jittakal/dumpshard/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// PostParquet is the Parquet schema of an exported post.
type PostParquet struct {
	PostID           string    `parquet:"post_id"`
	PostTitle        string    `parquet:"post_title"`
	PostText         string    `parquet:"post_text"`
	PostCommentCount int64     `parquet:"post_comment_count"`
	PostURL          string    `parquet:"post_url"`
	PostDate         string    `parquet:"post_date"`
	PostTime         time.Time `parquet:"post_time,timestamp(millisecond)"`
	PosterUsername   string    `parquet:"poster_username,dict"`
	SubredditName    string    `parquet:"subreddit_name,dict"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet.
// Supported codecs: snappy (default), gzip, lz4, zstd, uncompressed.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts a compression name to a parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch strings.ToLower(compression) {
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "lz4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Create opens filePath for writing.
func (e *ParquetEncoder) Create(filePath string) (encoder.RowWriter, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	writer := parquet.NewGenericWriter[PostParquet](
		file,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("dumpshard", "1.0", "0"),
	)

	return &parquetRowWriter{file: file, w: writer}, nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() record.FileFormat {
	return record.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}

type parquetRowWriter struct {
	file  *os.File
	w     *parquet.GenericWriter[PostParquet]
	rows  []PostParquet
	count int
}

func (r *parquetRowWriter) Write(posts []record.Post) error {
	r.rows = r.rows[:0]
	for _, p := range posts {
		r.rows = append(r.rows, toParquet(p))
	}
	if _, err := r.w.Write(r.rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	r.count += len(posts)
	return nil
}

func (r *parquetRowWriter) Close() (*record.FileStats, error) {
	if err := r.w.Close(); err != nil {
		r.file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return closeFile(r.file, r.count)
}

func toParquet(p record.Post) PostParquet {
	return PostParquet{
		PostID:           p.ID,
		PostTitle:        p.Title,
		PostText:         p.Text,
		PostCommentCount: p.CommentCount,
		PostURL:          p.URL,
		PostDate:         p.Date(),
		PostTime:         time.Unix(p.CreatedUTC, 0).UTC(),
		PosterUsername:   p.Author,
		SubredditName:    p.Subreddit,
	}
}
