package storage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jittakal/dumpshard/internal/retry"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/storage"
)

// MetricsCollector defines metrics operations for archiving.
type MetricsCollector interface {
	IncArchiveUploads(backend string, status string)
	ObserveUploadDuration(backend string, seconds float64)
	IncStorageErrors(backend string, operation string)
}

// ArchiveConfig contains archiver configuration.
type ArchiveConfig struct {
	// Workers bounds concurrent uploads. Defaults to 4.
	Workers int
	// DeleteLocal removes each shard after a successful upload.
	DeleteLocal bool
	Retry       retry.Config
}

// ArchiveResult summarizes an archive pass.
type ArchiveResult struct {
	Uploaded int
	Failed   int
	Bytes    int64
}

// Archiver uploads compacted shards of an organized tree.
type Archiver struct {
	cfg      ArchiveConfig
	uploader storage.Uploader
	router   storage.Router
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewArchiver creates an Archiver.
func NewArchiver(
	cfg ArchiveConfig,
	uploader storage.Uploader,
	router storage.Router,
	logger *slog.Logger,
	metrics MetricsCollector,
) *Archiver {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:      cfg,
		uploader: uploader,
		router:   router,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run uploads every <period>/<category>.zst shard under root. Shards that
// fail after retries are reported in the joined error and kept locally.
func (a *Archiver) Run(ctx context.Context, root string) (*ArchiveResult, error) {
	shards, err := compactedShards(root)
	if err != nil {
		return nil, err
	}

	backend := a.uploader.Backend()
	a.logger.Info("archiving shards", "root", root, "shards", len(shards), "backend", backend)

	var (
		mu     sync.Mutex
		result = &ArchiveResult{}
		errs   []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for _, s := range shards {
		s := s
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			objectKey := a.router.Route(s.key)
			n, err := a.upload(gctx, s.path, objectKey)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				result.Failed++
				errs = append(errs, err)
				return nil
			}
			result.Uploaded++
			result.Bytes += n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	a.logger.Info("archive finished",
		"uploaded", result.Uploaded,
		"failed", result.Failed,
		"bytes", result.Bytes,
	)
	return result, errors.Join(errs...)
}

func (a *Archiver) upload(ctx context.Context, localPath, objectKey string) (int64, error) {
	backend := a.uploader.Backend()
	start := time.Now()

	var n int64
	err := retry.Do(ctx, a.cfg.Retry, func() error {
		var err error
		n, err = a.uploader.Upload(ctx, localPath, objectKey)
		return err
	}, func(err error, wait time.Duration) {
		a.logger.Warn("upload failed, retrying",
			"path", localPath,
			"key", objectKey,
			"backoff", wait,
			"error", err,
		)
	})

	if err != nil {
		if a.metrics != nil {
			a.metrics.IncArchiveUploads(backend, "error")
			a.metrics.IncStorageErrors(backend, "upload")
		}
		a.logger.Error("failed to archive shard", "path", localPath, "key", objectKey, "error", err)
		return 0, err
	}

	if a.metrics != nil {
		a.metrics.IncArchiveUploads(backend, "success")
		a.metrics.ObserveUploadDuration(backend, time.Since(start).Seconds())
	}

	if a.cfg.DeleteLocal {
		if err := os.Remove(localPath); err != nil {
			a.logger.Warn("failed to remove archived shard", "path", localPath, "error", err)
		}
	}

	a.logger.Debug("archived shard", "path", localPath, "key", objectKey, "bytes", n)
	return n, nil
}

type localShard struct {
	path string
	key  record.PartitionKey
}

func compactedShards(root string) ([]localShard, error) {
	var shards []localShard
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, record.CompactedExt) {
			return nil
		}
		if key, ok := KeyFromPath(root, path); ok {
			shards = append(shards, localShard{path: path, key: key})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(shards, func(i, j int) bool { return shards[i].path < shards[j].path })
	return shards, nil
}
