package encoder

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/dumpshard/pkg/encoder"
	"github.com/jittakal/dumpshard/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Avro Object Container Files.
// With gzip compression the whole container is gzipped.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: strings.ToLower(compression),
	}, nil
}

// avroSchema returns the Avro schema for exported posts.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "Post",
		"namespace": "io.dumpshard.search",
		"fields": [
			{"name": "post_id", "type": "string"},
			{"name": "post_title", "type": ["null", "string"], "default": null},
			{"name": "post_text", "type": ["null", "string"], "default": null},
			{"name": "post_comment_count", "type": "long"},
			{"name": "post_url", "type": ["null", "string"], "default": null},
			{"name": "post_date", "type": "string"},
			{"name": "poster_username", "type": "string"},
			{"name": "subreddit_name", "type": "string"}
		]
	}`
}

// Create opens filePath and writes the container header.
func (e *AvroEncoder) Create(filePath string) (encoder.RowWriter, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	var (
		w  io.Writer = file
		gz *gzip.Writer
	)
	if e.gzipped() {
		gz = gzip.NewWriter(file)
		w = gz
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: e.codec,
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	return &avroRowWriter{file: file, gz: gz, ocf: ocf}, nil
}

// Format returns the file format.
func (e *AvroEncoder) Format() record.FileFormat {
	return record.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.gzipped() {
		return ".avro.gz"
	}
	return ".avro"
}

func (e *AvroEncoder) gzipped() bool {
	return e.compression == "gzip"
}

type avroRowWriter struct {
	file  *os.File
	gz    *gzip.Writer
	ocf   *goavro.OCFWriter
	count int
}

func (r *avroRowWriter) Write(posts []record.Post) error {
	if len(posts) == 0 {
		return nil
	}

	data := make([]interface{}, 0, len(posts))
	for _, p := range posts {
		data = append(data, toAvroMap(p))
	}
	if err := r.ocf.Append(data); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	r.count += len(posts)
	return nil
}

func (r *avroRowWriter) Close() (*record.FileStats, error) {
	if r.gz != nil {
		if err := r.gz.Close(); err != nil {
			r.file.Close()
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return closeFile(r.file, r.count)
}

// toAvroMap converts a post to its Avro map. Empty optional strings are null.
func toAvroMap(p record.Post) map[string]interface{} {
	return map[string]interface{}{
		"post_id":            p.ID,
		"post_title":         nullable(p.Title),
		"post_text":          nullable(p.Text),
		"post_comment_count": p.CommentCount,
		"post_url":           nullable(p.URL),
		"post_date":          p.Date(),
		"poster_username":    p.Author,
		"subreddit_name":     p.Subreddit,
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return goavro.Union("string", s)
}
