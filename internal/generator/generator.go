// Package generator produces synthetic Reddit dump files for load tests and
// local runs.
package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/jittakal/dumpshard/internal/classify"
	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
)

// Record kinds.
const (
	KindPosts    = "posts"
	KindComments = "comments"
)

// Output codecs.
const (
	CodecPlain = "plain"
	CodecZstd  = "zstd"
	CodecGzip  = "gzip"
)

// DefaultCategories is used when no category is configured.
var DefaultCategories = []string{"AskReddit", "golang", "science", "worldnews", "datascience"}

// Config controls what is generated.
type Config struct {
	Kind       string
	Records    int
	Categories []string
	// Start and End bound created_utc. End is exclusive.
	Start time.Time
	End   time.Time
	// MalformedRatio is the share of lines written broken, in [0, 1].
	MalformedRatio float64
	// Codec is derived from the file extension when empty.
	Codec string
	// Seed makes the output reproducible when non-zero.
	Seed int64
}

// Stats describes a generated file.
type Stats struct {
	Records   int
	Malformed int
	// Shards counts valid records per "YYYY-MM/category" key.
	Shards map[string]int
}

// Post is a submission line.
type Post struct {
	ID          string `json:"id"`
	Subreddit   string `json:"subreddit"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Selftext    string `json:"selftext"`
	URL         string `json:"url"`
	Permalink   string `json:"permalink"`
	NumComments int    `json:"num_comments"`
	Score       int    `json:"score"`
	CreatedUTC  any    `json:"created_utc"`
}

// Comment is a comment line.
type Comment struct {
	ID         string `json:"id"`
	LinkID     string `json:"link_id"`
	ParentID   string `json:"parent_id"`
	Subreddit  string `json:"subreddit"`
	Author     string `json:"author"`
	Body       string `json:"body"`
	Score      int    `json:"score"`
	CreatedUTC any    `json:"created_utc"`
}

// Generator writes synthetic dump lines.
type Generator struct {
	cfg    Config
	faker  faker.Faker
	logger *slog.Logger
}

// New creates a generator.
func New(cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.Kind == "" {
		cfg.Kind = KindPosts
	}
	if cfg.Kind != KindPosts && cfg.Kind != KindComments {
		return nil, &apperrors.ConfigError{Key: "kind", Reason: fmt.Sprintf("unsupported kind %q", cfg.Kind)}
	}
	if cfg.Records < 0 {
		return nil, &apperrors.ConfigError{Key: "records", Reason: "must not be negative"}
	}
	if cfg.MalformedRatio < 0 || cfg.MalformedRatio > 1 {
		return nil, &apperrors.ConfigError{Key: "malformed_ratio", Reason: "must be between 0 and 1"}
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if cfg.End.IsZero() {
		cfg.End = cfg.Start.AddDate(0, 3, 0)
	}
	if !cfg.End.After(cfg.Start) {
		return nil, &apperrors.ConfigError{Key: "end", Reason: "must be after start"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := faker.New()
	if cfg.Seed != 0 {
		f = faker.NewWithSeed(rand.NewSource(cfg.Seed))
	}

	return &Generator{cfg: cfg, faker: f, logger: logger}, nil
}

// WriteFile generates a dump file at path. The codec follows the
// configuration or, when unset, the file extension.
func (g *Generator) WriteFile(ctx context.Context, path string) (Stats, error) {
	codec := g.cfg.Codec
	if codec == "" {
		codec = CodecFromPath(path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Stats{}, &apperrors.StorageError{Operation: "mkdir", Path: path, Err: err}
	}
	file, err := os.Create(path)
	if err != nil {
		return Stats{}, &apperrors.StorageError{Operation: "create", Path: path, Err: err}
	}
	defer file.Close()

	var (
		w      io.Writer = file
		closer io.Closer
	)
	switch codec {
	case CodecPlain:
	case CodecZstd:
		enc, err := zstd.NewWriter(file)
		if err != nil {
			return Stats{}, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w, closer = enc, enc
	case CodecGzip:
		gz := gzip.NewWriter(file)
		w, closer = gz, gz
	default:
		return Stats{}, &apperrors.ConfigError{Key: "codec", Reason: fmt.Sprintf("unsupported codec %q", codec)}
	}

	stats, err := g.Write(ctx, w)
	if err != nil {
		return stats, err
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return stats, &apperrors.StorageError{Operation: "write", Path: path, Err: err}
		}
	}
	if err := file.Sync(); err != nil {
		return stats, &apperrors.StorageError{Operation: "sync", Path: path, Err: err}
	}

	g.logger.Info("generated dump",
		"file", path,
		"codec", codec,
		"records", stats.Records,
		"malformed", stats.Malformed,
		"shards", len(stats.Shards),
	)
	return stats, nil
}

// Write generates newline-terminated lines into w.
func (g *Generator) Write(ctx context.Context, w io.Writer) (Stats, error) {
	bw := bufio.NewWriterSize(w, 64<<10)
	stats := Stats{Shards: make(map[string]int)}

	for i := 0; i < g.cfg.Records; i++ {
		if i%1024 == 0 && ctx.Err() != nil {
			return stats, ctx.Err()
		}

		var line []byte
		if g.malformed() {
			line = g.brokenLine()
			stats.Malformed++
		} else {
			l, key, err := g.line()
			if err != nil {
				return stats, err
			}
			line = l
			stats.Shards[key.String()]++
		}

		if _, err := bw.Write(line); err != nil {
			return stats, &apperrors.StorageError{Operation: "write", Err: err}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return stats, &apperrors.StorageError{Operation: "write", Err: err}
		}
		stats.Records++
	}

	if err := bw.Flush(); err != nil {
		return stats, &apperrors.StorageError{Operation: "write", Err: err}
	}
	return stats, nil
}

func (g *Generator) malformed() bool {
	if g.cfg.MalformedRatio <= 0 {
		return false
	}
	return float64(g.faker.IntBetween(0, 9999)) < g.cfg.MalformedRatio*10000
}

// line returns a valid record and the shard it belongs to.
func (g *Generator) line() ([]byte, record.PartitionKey, error) {
	category := g.cfg.Categories[g.faker.IntBetween(0, len(g.cfg.Categories)-1)]
	created := g.faker.Int64Between(g.cfg.Start.Unix(), g.cfg.End.Unix()-1)
	key := record.PartitionKey{Period: record.Period(created), Category: classify.Sanitize(category)}

	// Older dumps store created_utc as a string.
	var ts any = created
	if g.faker.IntBetween(0, 9) == 0 {
		ts = strconv.FormatInt(created, 10)
	}

	id := g.id()
	var v any
	switch g.cfg.Kind {
	case KindComments:
		link := "t3_" + g.id()
		v = Comment{
			ID:         id,
			LinkID:     link,
			ParentID:   link,
			Subreddit:  category,
			Author:     g.faker.Internet().User(),
			Body:       g.faker.Lorem().Paragraph(2),
			Score:      g.faker.IntBetween(-20, 5000),
			CreatedUTC: ts,
		}
	default:
		permalink := fmt.Sprintf("/r/%s/comments/%s/", category, id)
		v = Post{
			ID:          id,
			Subreddit:   category,
			Author:      g.faker.Internet().User(),
			Title:       g.faker.Lorem().Sentence(8),
			Selftext:    g.faker.Lorem().Paragraph(3),
			URL:         "https://www.reddit.com" + permalink,
			Permalink:   permalink,
			NumComments: g.faker.IntBetween(0, 2500),
			Score:       g.faker.IntBetween(-20, 50000),
			CreatedUTC:  ts,
		}
	}

	line, err := json.Marshal(v)
	if err != nil {
		return nil, key, fmt.Errorf("failed to encode record: %w", err)
	}
	return line, key, nil
}

// brokenLine returns a line the source rejects.
func (g *Generator) brokenLine() []byte {
	switch g.faker.IntBetween(0, 3) {
	case 0:
		return []byte(`{"id":"` + g.id() + `","subreddit":"golang","title":"trunc`)
	case 1:
		return []byte(fmt.Sprintf(`{"id":%q,"created_utc":%d}`, g.id(), g.cfg.Start.Unix()))
	case 2:
		return []byte(`{"id":"` + g.id() + `","subreddit":"golang","created_utc":"yesterday"}`)
	default:
		return []byte(g.faker.Lorem().Sentence(4))
	}
}

// id returns a base36 id like the ones in the dumps.
func (g *Generator) id() string {
	return strconv.FormatInt(g.faker.Int64Between(36*36*36*36*36, 36*36*36*36*36*36*36-1), 36)
}

// CodecFromPath selects a codec by file extension.
func CodecFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		return CodecZstd
	case ".gz":
		return CodecGzip
	default:
		return CodecPlain
	}
}
