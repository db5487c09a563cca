// Package export filters dump records by category and search terms and
// writes matching rows to CSV, Parquet or Avro files.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jittakal/dumpshard/internal/classify"
	encoderimpl "github.com/jittakal/dumpshard/internal/encoder"
	"github.com/jittakal/dumpshard/pkg/encoder"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/source"
)

// writeBatch is the number of rows buffered per output before writing.
const writeBatch = 1024

// MetricsCollector defines metrics operations for exports.
type MetricsCollector interface {
	IncFilesWritten(format string, status string)
	ObserveFileSize(format string, size float64)
	AddRowsExported(format string, count int)
}

// Config contains export configuration.
type Config struct {
	// Targets maps a category to its search terms. A category without terms
	// exports every record. No targets at all exports every record of every
	// category, one output per category.
	Targets     map[string][]string
	Comments    bool
	Format      record.FileFormat
	Compression string
	OutputDir   string
	Prefix      string
	// Reverse walks input files, or periods of an organized tree, newest first.
	Reverse bool
}

// OutputStats describes one written export file.
type OutputStats struct {
	Path string
	Rows int
	Size int64
}

// Result summarizes an export run.
type Result struct {
	Inputs     int
	Records    int64
	Rows       int64
	Duplicates int64
	Outputs    []OutputStats
}

type term struct {
	name  string
	lower string
}

type output struct {
	path    string
	w       encoder.RowWriter
	seen    map[string]struct{}
	pending []record.Post
}

// Exporter writes search exports.
type Exporter struct {
	cfg     Config
	enc     encoder.Encoder
	open    source.Opener
	targets map[string][]term
	all     bool
	logger  *slog.Logger
	metrics MetricsCollector

	outputs map[string]*output
	order   []string
}

// New creates an Exporter.
func New(cfg Config, open source.Opener, logger *slog.Logger, metrics MetricsCollector) (*Exporter, error) {
	if open == nil {
		return nil, errors.New("export: source opener is required")
	}
	if cfg.Format == "" {
		cfg.Format = record.FormatCSV
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "reddit"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := encoderimpl.NewFactory(cfg.Format, cfg.Compression).CreateEncoder()
	if err != nil {
		return nil, err
	}

	targets := make(map[string][]term, len(cfg.Targets))
	for category, terms := range cfg.Targets {
		key := classify.Sanitize(strings.TrimPrefix(category, "r/"))
		if key == "" {
			return nil, fmt.Errorf("export: invalid target category %q", category)
		}
		list := targets[key]
		for _, t := range terms {
			if t = strings.TrimSpace(t); t != "" {
				list = append(list, term{name: t, lower: strings.ToLower(t)})
			}
		}
		targets[key] = list
	}

	return &Exporter{
		cfg:     cfg,
		enc:     enc,
		open:    open,
		targets: targets,
		all:     len(targets) == 0,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Categories returns the sanitized target categories in sorted order. It is
// empty when every category is exported.
func (e *Exporter) Categories() []string {
	out := make([]string, 0, len(e.targets))
	for c := range e.targets {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Run exports matching rows of every input file. Files that cannot be read
// are logged and reported in the joined error; the remaining inputs are
// still processed. Every output is closed before Run returns.
func (e *Exporter) Run(ctx context.Context, inputs []string) (*Result, error) {
	start := time.Now()
	e.outputs = make(map[string]*output)
	e.order = nil

	result := &Result{}
	var errs []error

	for _, path := range inputs {
		if ctx.Err() != nil {
			break
		}
		if err := e.exportFile(ctx, path, result); err != nil {
			if ctx.Err() != nil {
				break
			}
			e.logger.Error("failed to export file", "file", path, "error", err)
			errs = append(errs, err)
			continue
		}
		result.Inputs++
	}

	result.Outputs, errs = e.closeOutputs(errs)

	e.logger.Info("export finished",
		"inputs", result.Inputs,
		"records", result.Records,
		"rows", result.Rows,
		"duplicates", result.Duplicates,
		"outputs", len(result.Outputs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, errors.Join(errs...)
}

func (e *Exporter) exportFile(ctx context.Context, path string, result *Result) error {
	src, err := e.open(path, 0)
	if err != nil {
		return err
	}
	defer src.Close()

	e.logger.Info("exporting file", "file", path)

	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		result.Records++

		category := classify.Sanitize(rec.Subreddit)
		if e.all {
			if category == "" {
				continue
			}
			if err := e.emit(category, "", mapRow(rec, e.cfg.Comments), result); err != nil {
				return err
			}
			continue
		}

		terms, ok := e.targets[category]
		if !ok {
			continue
		}

		r := mapRow(rec, e.cfg.Comments)
		if len(terms) == 0 {
			if err := e.emit(category, "", r, result); err != nil {
				return err
			}
			continue
		}

		title := strings.ToLower(r.post.Title)
		text := strings.ToLower(r.post.Text)
		for _, t := range terms {
			if strings.Contains(text, t.lower) || strings.Contains(title, t.lower) {
				if err := e.emit(category, t.name, r, result); err != nil {
					return err
				}
			}
		}
	}
}

// emit appends r to the output of (category, term) unless its id was
// already written there.
func (e *Exporter) emit(category, termName string, r row, result *Result) error {
	out, err := e.output(category, termName)
	if err != nil {
		return err
	}

	if r.rowID != "" {
		if _, dup := out.seen[r.rowID]; dup {
			result.Duplicates++
			return nil
		}
		out.seen[r.rowID] = struct{}{}
	}

	out.pending = append(out.pending, r.post)
	result.Rows++
	if len(out.pending) >= writeBatch {
		return e.flush(out)
	}
	return nil
}

func (e *Exporter) output(category, termName string) (*output, error) {
	key := category + "\x00" + termName
	if out, ok := e.outputs[key]; ok {
		return out, nil
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(e.cfg.OutputDir, e.FileName(category, termName))
	w, err := e.enc.Create(path)
	if err != nil {
		if e.metrics != nil {
			e.metrics.IncFilesWritten(string(e.cfg.Format), "error")
		}
		return nil, err
	}

	out := &output{path: path, w: w, seen: make(map[string]struct{})}
	e.outputs[key] = out
	e.order = append(e.order, key)
	e.logger.Debug("created export file", "path", path)
	return out, nil
}

// FileName returns <prefix>_<category>_<posts|comments>[_<term>]<ext>.
func (e *Exporter) FileName(category, termName string) string {
	kind := "posts"
	if e.cfg.Comments {
		kind = "comments"
	}

	name := e.cfg.Prefix + "_" + category + "_" + kind
	if termName != "" {
		name += "_" + strings.NewReplacer(" ", "_", "/", "_", string(filepath.Separator), "_").Replace(termName)
	}
	return name + e.enc.FileExtension()
}

func (e *Exporter) flush(out *output) error {
	if len(out.pending) == 0 {
		return nil
	}
	if err := out.w.Write(out.pending); err != nil {
		return fmt.Errorf("failed to write %s: %w", out.path, err)
	}
	if e.metrics != nil {
		e.metrics.AddRowsExported(string(e.cfg.Format), len(out.pending))
	}
	out.pending = out.pending[:0]
	return nil
}

func (e *Exporter) closeOutputs(errs []error) ([]OutputStats, []error) {
	format := string(e.cfg.Format)
	stats := make([]OutputStats, 0, len(e.order))

	for _, key := range e.order {
		out := e.outputs[key]
		if err := e.flush(out); err != nil {
			errs = append(errs, err)
		}

		fs, err := out.w.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", out.path, err))
			if e.metrics != nil {
				e.metrics.IncFilesWritten(format, "error")
			}
			continue
		}

		if e.metrics != nil {
			e.metrics.IncFilesWritten(format, "success")
			e.metrics.ObserveFileSize(format, float64(fs.SizeBytes))
		}
		e.logger.Info("wrote export file", "path", out.path, "rows", fs.RecordCount, "size", fs.SizeBytes)
		stats = append(stats, OutputStats{Path: out.path, Rows: fs.RecordCount, Size: fs.SizeBytes})
	}

	e.outputs = nil
	e.order = nil
	return stats, errs
}
