// Package shard implements the buffered, append-only sharded writer.
package shard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/internal/retry"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/shard"
)

// Ensure implementation satisfies interface at compile time.
var _ shard.Writer = (*Writer)(nil)

// DefaultFlushThreshold is the per-shard buffer size that triggers a flush.
const DefaultFlushThreshold = 1 << 20

// MetricsCollector defines metrics operations for the sharded writer.
type MetricsCollector interface {
	IncShardFlushes(status string)
	ObserveFlushBytes(size float64)
	SetOpenShards(count int)
	IncStorageErrors(backend string, operation string)
}

// Config contains sharded writer configuration.
type Config struct {
	OutputDir      string
	FlushThreshold int
	SyncOnFlush    bool
	// MaxOpenFiles caps the number of shard files held open at once.
	// Zero means no cap.
	MaxOpenFiles int
	Retry        retry.Config
}

// shardBuffer holds pending lines for one partition key.
type shardBuffer struct {
	key  record.PartitionKey
	path string
	buf  bytes.Buffer
	file *os.File
	mu   sync.Mutex
}

// Writer implements shard.Writer on the local filesystem.
// Lines for one key are appended in the order Append was called, and every
// flushed line is terminated by a single newline.
type Writer struct {
	cfg     Config
	logger  *slog.Logger
	metrics MetricsCollector

	shards map[record.PartitionKey]*shardBuffer
	mu     sync.RWMutex
	closed bool

	handles   *simplelru.LRU
	handlesMu sync.Mutex
}

// NewWriter creates a sharded writer rooted at cfg.OutputDir.
func NewWriter(cfg Config, logger *slog.Logger, metrics MetricsCollector) (*Writer, error) {
	if cfg.OutputDir == "" {
		return nil, &apperrors.ConfigError{Key: "output.dir", Reason: "must not be empty"}
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, &apperrors.StorageError{Operation: "mkdir", Path: cfg.OutputDir, Err: err}
	}

	// The cache is unbounded; capacity is enforced by evictHandles so busy
	// shards can be skipped.
	handles, err := simplelru.NewLRU(math.MaxInt32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}

	logger.Info("sharded writer created",
		"output_dir", cfg.OutputDir,
		"flush_threshold", cfg.FlushThreshold,
		"sync_on_flush", cfg.SyncOnFlush,
		"max_open_files", cfg.MaxOpenFiles,
	)

	return &Writer{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		shards:  make(map[record.PartitionKey]*shardBuffer),
		handles: handles,
	}, nil
}

// Append buffers line for key and flushes the shard once its buffer
// reaches the flush threshold.
func (w *Writer) Append(key record.PartitionKey, line []byte) error {
	s, err := w.getOrCreate(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w.isClosed() {
		return apperrors.ErrWriterClosed
	}

	s.buf.Write(line)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		s.buf.WriteByte('\n')
	}

	if s.buf.Len() >= w.cfg.FlushThreshold {
		return w.flushWithRetry(s)
	}
	return nil
}

// Flush writes the buffers of keys to their shard files.
// Unknown keys are ignored.
func (w *Writer) Flush(keys ...record.PartitionKey) error {
	if w.isClosed() {
		return apperrors.ErrWriterClosed
	}

	var errs []error
	for _, key := range keys {
		w.mu.RLock()
		s, ok := w.shards[key]
		w.mu.RUnlock()
		if !ok {
			continue
		}

		s.mu.Lock()
		err := w.flushWithRetry(s)
		s.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushAll writes every non-empty buffer.
func (w *Writer) FlushAll() error {
	if w.isClosed() {
		return apperrors.ErrWriterClosed
	}
	return w.Flush(w.keys()...)
}

// Close flushes all buffers and closes every file handle. Later calls
// to Append or Flush return ErrWriterClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	shards := make([]*shardBuffer, 0, len(w.shards))
	for _, s := range w.shards {
		shards = append(shards, s)
	}
	w.mu.Unlock()

	var errs []error
	for _, s := range shards {
		s.mu.Lock()
		if err := w.flushWithRetry(s); err != nil {
			errs = append(errs, err)
		}
		if err := w.closeHandle(s); err != nil {
			errs = append(errs, err)
		}
		s.mu.Unlock()
	}

	w.logger.Info("sharded writer closed",
		"shards", len(shards),
		"errors", len(errs),
	)

	return errors.Join(errs...)
}

// Keys returns the keys of every shard touched so far.
func (w *Writer) Keys() []record.PartitionKey {
	return w.keys()
}

// Pending returns the number of buffered bytes for key.
func (w *Writer) Pending(key record.PartitionKey) int {
	w.mu.RLock()
	s, ok := w.shards[key]
	w.mu.RUnlock()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// OpenFiles returns the number of shard files currently held open.
func (w *Writer) OpenFiles() int {
	w.handlesMu.Lock()
	defer w.handlesMu.Unlock()
	return w.handles.Len()
}

func (w *Writer) keys() []record.PartitionKey {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]record.PartitionKey, 0, len(w.shards))
	for k := range w.shards {
		keys = append(keys, k)
	}
	return keys
}

func (w *Writer) isClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

// getOrCreate returns the buffer of key, creating it if needed.
func (w *Writer) getOrCreate(key record.PartitionKey) (*shardBuffer, error) {
	w.mu.RLock()
	s, exists := w.shards[key]
	closed := w.closed
	w.mu.RUnlock()

	if closed {
		return nil, apperrors.ErrWriterClosed
	}
	if exists {
		return s, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, apperrors.ErrWriterClosed
	}
	// Double-check after acquiring write lock
	if s, exists := w.shards[key]; exists {
		return s, nil
	}

	s = &shardBuffer{
		key:  key,
		path: key.Path(w.cfg.OutputDir, record.ShardExt),
	}
	w.shards[key] = s
	return s, nil
}

// flushWithRetry writes the buffer of s, retrying transient failures.
// The caller must hold s.mu.
func (w *Writer) flushWithRetry(s *shardBuffer) error {
	if s.buf.Len() == 0 {
		return nil
	}

	size := s.buf.Len()
	start := time.Now()

	err := retry.Do(context.Background(), w.cfg.Retry, func() error {
		return w.flush(s)
	}, func(err error, wait time.Duration) {
		w.logger.Warn("shard flush failed, retrying",
			"shard", s.key.String(),
			"error", err,
			"backoff_ms", wait.Milliseconds(),
		)
	})

	if err != nil {
		if w.metrics != nil {
			w.metrics.IncShardFlushes("error")
		}
		w.logger.Error("shard flush failed",
			"shard", s.key.String(),
			"pending_bytes", s.buf.Len(),
			"error", err,
		)
		return err
	}

	if w.metrics != nil {
		w.metrics.IncShardFlushes("success")
		w.metrics.ObserveFlushBytes(float64(size))
	}
	w.logger.Debug("flushed shard",
		"shard", s.key.String(),
		"bytes", size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// flush performs one write attempt. On failure the file is truncated back
// to its previous length and the buffer is kept. The caller must hold s.mu.
func (w *Writer) flush(s *shardBuffer) error {
	f, err := w.openHandle(s)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		w.dropHandle(s)
		return w.storageError("open", s.path, err)
	}
	size := info.Size()

	if _, err := f.Write(s.buf.Bytes()); err != nil {
		return w.rollback(s, size, w.storageError("write", s.path, err))
	}

	if w.cfg.SyncOnFlush {
		if err := f.Sync(); err != nil {
			return w.rollback(s, size, w.storageError("sync", s.path, err))
		}
	}

	s.buf.Reset()
	return nil
}

// rollback restores the shard file to size and drops its handle so the
// next attempt reopens it.
func (w *Writer) rollback(s *shardBuffer, size int64, cause error) error {
	if err := os.Truncate(s.path, size); err != nil {
		w.dropHandle(s)
		return errors.Join(cause, w.storageError("truncate", s.path, err))
	}
	w.dropHandle(s)
	return cause
}

func (w *Writer) storageError(op, path string, err error) error {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("file", op)
	}
	return &apperrors.StorageError{Operation: op, Path: path, Err: err}
}

// openHandle returns the append-mode handle of s, opening it if needed.
// The caller must hold s.mu.
func (w *Writer) openHandle(s *shardBuffer) (*os.File, error) {
	if s.file != nil {
		w.handlesMu.Lock()
		w.handles.Get(s.key)
		w.handlesMu.Unlock()
		return s.file, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, w.storageError("create", s.path, err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, w.storageError("open", s.path, err)
	}
	s.file = f

	w.handlesMu.Lock()
	w.handles.Add(s.key, s)
	w.evictHandles(s)
	open := w.handles.Len()
	w.handlesMu.Unlock()

	if w.metrics != nil {
		w.metrics.SetOpenShards(open)
	}
	return f, nil
}

// evictHandles closes the least recently used handles above MaxOpenFiles.
// Shards that are busy are skipped. The caller must hold handlesMu.
func (w *Writer) evictHandles(current *shardBuffer) {
	if w.cfg.MaxOpenFiles <= 0 {
		return
	}

	excess := w.handles.Len() - w.cfg.MaxOpenFiles
	if excess <= 0 {
		return
	}

	for _, k := range w.handles.Keys() {
		if excess == 0 {
			return
		}
		v, ok := w.handles.Peek(k)
		if !ok {
			continue
		}
		victim := v.(*shardBuffer)
		if victim == current || !victim.mu.TryLock() {
			continue
		}
		if victim.file != nil {
			if err := victim.file.Close(); err != nil {
				w.logger.Warn("failed to close evicted shard",
					"shard", victim.key.String(),
					"error", err,
				)
			}
			victim.file = nil
		}
		victim.mu.Unlock()
		w.handles.Remove(k)
		excess--
	}
}

// dropHandle closes the handle of s ignoring errors. The caller must hold s.mu.
func (w *Writer) dropHandle(s *shardBuffer) {
	if s.file == nil {
		return
	}
	s.file.Close()
	s.file = nil

	w.handlesMu.Lock()
	w.handles.Remove(s.key)
	w.handlesMu.Unlock()
}

// closeHandle closes the handle of s. The caller must hold s.mu.
func (w *Writer) closeHandle(s *shardBuffer) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil

	w.handlesMu.Lock()
	w.handles.Remove(s.key)
	w.handlesMu.Unlock()

	if err != nil {
		return w.storageError("close", s.path, err)
	}
	return nil
}
