package encoder

import (
	"fmt"

	"github.com/jittakal/dumpshard/pkg/encoder"
	"github.com/jittakal/dumpshard/pkg/record"
)

// Columns lists the exported columns in output order.
var Columns = []string{
	"post_id",
	"post_title",
	"post_text",
	"post_comment_count",
	"post_url",
	"post_date",
	"poster_username",
	"subreddit_name",
}

// Factory creates encoders based on format and configuration.
type Factory struct {
	format      record.FileFormat
	compression string
}

// NewFactory creates a new encoder factory.
func NewFactory(format record.FileFormat, compression string) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case record.FormatCSV:
		return NewCSVEncoder(), nil
	case record.FormatParquet:
		return NewParquetEncoder(f.compression), nil
	case record.FormatAvro:
		return NewAvroEncoder(f.compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []record.FileFormat {
	return []record.FileFormat{
		record.FormatCSV,
		record.FormatParquet,
		record.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format record.FileFormat) []string {
	switch format {
	case record.FormatCSV:
		return []string{"uncompressed"}
	case record.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case record.FormatAvro:
		return []string{"uncompressed", "gzip"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format record.FileFormat) string {
	switch format {
	case record.FormatParquet:
		return "snappy"
	case record.FormatAvro:
		return "gzip"
	default:
		return "uncompressed"
	}
}

// row returns the column values of p in Columns order.
func row(p record.Post) []string {
	return []string{
		p.ID,
		p.Title,
		p.Text,
		fmt.Sprintf("%d", p.CommentCount),
		p.URL,
		p.Date(),
		p.Author,
		p.Subreddit,
	}
}
