package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/checkpoint"
)

// Ensure implementation satisfies interface at compile time.
var _ checkpoint.Store = (*FileStore)(nil)

// fileVersion is the on-disk format version of FileStore documents.
const fileVersion = 1

type fileDocument struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Offsets   map[string]int64 `json:"offsets"`
}

// FileStore keeps every offset in one JSON document. Each commit rewrites
// the document to a temporary file, syncs it and renames it over the
// previous version, so a crash leaves either the old or the new document.
type FileStore struct {
	path    string
	offsets map[string]int64
	logger  *slog.Logger
	metrics MetricsCollector
	closed  bool
	mu      sync.Mutex
}

// NewFileStore opens the checkpoint document at path, creating the parent
// directory if needed. A missing document yields an empty store.
func NewFileStore(path string, logger *slog.Logger, metrics MetricsCollector) (*FileStore, error) {
	if path == "" {
		return nil, &apperrors.ConfigError{Key: "checkpoint.path", Reason: "must not be empty"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &apperrors.StorageError{Operation: "mkdir", Path: path, Err: err}
	}

	offsets, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	logger.Info("checkpoint store opened",
		"backend", BackendFile,
		"path", path,
		"files", len(offsets),
	)

	return &FileStore{
		path:    path,
		offsets: offsets,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func readDocument(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]int64), nil
	}
	if err != nil {
		return nil, &apperrors.StorageError{Operation: "read", Path: path, Err: err}
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &apperrors.StorageError{
			Operation: "decode",
			Path:      path,
			Err:       fmt.Errorf("corrupt checkpoint document: %w", err),
		}
	}
	if doc.Offsets == nil {
		doc.Offsets = make(map[string]int64)
	}
	return doc.Offsets, nil
}

// Load returns a copy of every stored offset.
func (s *FileStore) Load(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apperrors.ErrStoreClosed
	}
	return copyOffsets(s.offsets), nil
}

// Commit records offset for fileID. Offsets at or below the stored value
// are ignored.
func (s *FileStore) Commit(ctx context.Context, fileID string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return &apperrors.CommitError{FileID: fileID, Offset: offset, Err: err}
	}

	prev, existed := s.offsets[fileID]
	if existed && offset <= prev {
		return nil
	}

	start := time.Now()
	s.offsets[fileID] = offset

	if err := s.persist(); err != nil {
		if existed {
			s.offsets[fileID] = prev
		} else {
			delete(s.offsets, fileID)
		}
		s.observe("error", start)
		return &apperrors.CommitError{FileID: fileID, Offset: offset, Err: err}
	}

	s.observe("success", start)
	s.logger.Debug("checkpoint committed",
		"file", fileID,
		"offset", offset,
	)
	return nil
}

// Reset removes the stored offset of fileID.
func (s *FileStore) Reset(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.ErrStoreClosed
	}

	prev, existed := s.offsets[fileID]
	if !existed {
		return nil
	}

	delete(s.offsets, fileID)
	if err := s.persist(); err != nil {
		s.offsets[fileID] = prev
		return &apperrors.CommitError{FileID: fileID, Offset: 0, Err: err}
	}

	s.logger.Info("checkpoint reset", "file", fileID)
	return nil
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// persist atomically replaces the checkpoint document. The caller must hold s.mu.
func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(fileDocument{
		Version:   fileVersion,
		UpdatedAt: time.Now().UTC(),
		Offsets:   s.offsets,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	return syncDir(dir)
}

// syncDir makes a completed rename durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint dir: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint dir: %w", err)
	}
	return nil
}

func (s *FileStore) observe(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncCheckpointCommits(BackendFile, status)
	s.metrics.ObserveCommitLatency(BackendFile, time.Since(start).Seconds())
}
