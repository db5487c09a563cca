// Package compact compresses finished shard files.
package compact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
)

const tmpSuffix = ".tmp"

// Outcome describes what CompactFile did with a shard.
type Outcome string

const (
	OutcomeCompacted Outcome = "compacted"
	OutcomeAppended  Outcome = "appended"
	OutcomeSkipped   Outcome = "skipped"
)

// MetricsCollector defines metrics operations for compaction.
type MetricsCollector interface {
	IncShardsCompacted(outcome string)
	ObserveCompressionRatio(ratio float64)
	IncStorageErrors(backend string, operation string)
}

// Config contains compactor configuration.
type Config struct {
	// Workers bounds concurrent compactions. Zero means one per CPU.
	Workers int
	// Level is a zstd level name (fastest, default, better, best) or a
	// numeric zstd level.
	Level string
}

// Result summarizes a compaction pass.
type Result struct {
	Compacted    int
	Appended     int
	Skipped      int
	StaleRemoved int
	BytesIn      int64
	BytesOut     int64
}

// Compactor compresses .jsonl shards into .zst shards.
type Compactor struct {
	workers int
	level   zstd.EncoderLevel
	logger  *slog.Logger
	metrics MetricsCollector
}

// New creates a Compactor.
func New(cfg Config, logger *slog.Logger, metrics MetricsCollector) (*Compactor, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Compactor{
		workers: workers,
		level:   level,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// ParseLevel converts a level name or number into a zstd encoder level.
func ParseLevel(s string) (zstd.EncoderLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zstd.SpeedDefault, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return zstd.EncoderLevelFromZstd(n), nil
	}
	if ok, level := zstd.EncoderLevelFromString(s); ok {
		return level, nil
	}
	return 0, &apperrors.ConfigError{Key: "compaction.level", Reason: fmt.Sprintf("unknown zstd level %q", s)}
}

// Run compacts every <period>/<category>.jsonl shard under root. Failures of single shards do
// not stop the pass; they are joined into the returned error.
func (c *Compactor) Run(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	var shards []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case strings.HasSuffix(path, record.CompactedExt+tmpSuffix):
			if err := os.Remove(path); err != nil {
				return &apperrors.StorageError{Operation: "remove", Path: path, Err: err}
			}
			result.StaleRemoved++
			c.logger.Warn("removed stale compaction file", "path", path)
		case strings.HasSuffix(path, record.ShardExt):
			if _, ok := record.ParseShardPath(root, path, record.ShardExt); ok {
				shards = append(shards, path)
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	c.logger.Info("compaction starting",
		"root", root,
		"shards", len(shards),
		"workers", c.workers,
	)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(c.workers)

	for _, shard := range shards {
		path := shard
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome, in, out, err := c.compact(path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			result.BytesIn += in
			result.BytesOut += out
			switch outcome {
			case OutcomeCompacted:
				result.Compacted++
			case OutcomeAppended:
				result.Appended++
			default:
				result.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("compaction finished",
		"compacted", result.Compacted,
		"appended", result.Appended,
		"skipped", result.Skipped,
		"errors", len(errs),
		"bytes_in", result.BytesIn,
		"bytes_out", result.BytesOut,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, errors.Join(errs...)
}

// CompactFile compresses one .jsonl shard into its .zst sibling and removes
// the original. If the .zst already exists the shard is appended to it as a
// new frame.
func (c *Compactor) CompactFile(ctx context.Context, path string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeSkipped, err
	}
	outcome, _, _, err := c.compact(path)
	return outcome, err
}

func (c *Compactor) compact(path string) (Outcome, int64, int64, error) {
	if !strings.HasSuffix(path, record.ShardExt) {
		return OutcomeSkipped, 0, 0, fmt.Errorf("not a shard file: %s", path)
	}
	dst := strings.TrimSuffix(path, record.ShardExt) + record.CompactedExt
	tmp := dst + tmpSuffix

	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return OutcomeSkipped, 0, 0, nil
	}
	if err != nil {
		return OutcomeSkipped, 0, 0, c.storageError("open", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return OutcomeSkipped, 0, 0, c.storageError("stat", path, err)
	}
	if info.Size() == 0 {
		if err := os.Remove(path); err != nil {
			return OutcomeSkipped, 0, 0, c.storageError("remove", path, err)
		}
		c.observe(OutcomeSkipped, 0, 0)
		return OutcomeSkipped, 0, 0, nil
	}

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return OutcomeSkipped, 0, 0, c.storageError("create", tmp, err)
	}
	fail := func(op string, err error) (Outcome, int64, int64, error) {
		out.Close()
		os.Remove(tmp)
		return OutcomeSkipped, 0, 0, c.storageError(op, tmp, err)
	}

	outcome := OutcomeCompacted
	existing, err := copyExisting(out, dst)
	if err != nil {
		return fail("copy", err)
	}
	if existing > 0 {
		outcome = OutcomeAppended
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return fail("encode", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return fail("encode", err)
	}
	if err := enc.Close(); err != nil {
		return fail("encode", err)
	}
	if err := out.Sync(); err != nil {
		return fail("sync", err)
	}

	written, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return fail("stat", err)
	}
	if written <= existing {
		return fail("verify", apperrors.ErrEmptyCompression)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return OutcomeSkipped, 0, 0, c.storageError("close", tmp, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return OutcomeSkipped, 0, 0, c.storageError("rename", dst, err)
	}
	if err := syncDir(filepath.Dir(dst)); err != nil {
		return OutcomeSkipped, 0, 0, c.storageError("sync", dst, err)
	}

	// A crash between rename and remove leaves both files; the next pass
	// appends the shard again, which duplicates its records.
	if err := os.Remove(path); err != nil {
		return outcome, 0, 0, c.storageError("remove", path, err)
	}

	frame := written - existing
	c.observe(outcome, info.Size(), frame)
	c.logger.Debug("compacted shard",
		"path", dst,
		"outcome", outcome,
		"bytes_in", info.Size(),
		"bytes_out", frame,
	)
	return outcome, info.Size(), frame, nil
}

// copyExisting copies the current compressed shard into out and returns
// its size. A missing shard copies nothing.
func copyExisting(out io.Writer, dst string) (int64, error) {
	f, err := os.Open(dst)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(out, f)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (c *Compactor) storageError(op, path string, err error) error {
	if c.metrics != nil {
		c.metrics.IncStorageErrors("file", "compact_"+op)
	}
	return &apperrors.StorageError{Operation: op, Path: path, Err: err}
}

func (c *Compactor) observe(outcome Outcome, in, out int64) {
	if c.metrics == nil {
		return
	}
	c.metrics.IncShardsCompacted(string(outcome))
	if in > 0 {
		c.metrics.ObserveCompressionRatio(float64(out) / float64(in))
	}
}
