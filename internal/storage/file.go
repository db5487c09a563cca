package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Uploader = (*FileUploader)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileUploader implements storage.Uploader by copying shards into a local
// directory tree. Objects appear atomically via rename.
type FileUploader struct {
	basePath string
	logger   *slog.Logger
}

// NewFileUploader creates a new filesystem uploader.
func NewFileUploader(cfg FileConfig, logger *slog.Logger) (*FileUploader, error) {
	if cfg.BasePath == "" {
		return nil, &apperrors.ConfigError{Key: "archive.file.base_path", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	logger.Info("filesystem uploader created", "base_path", cfg.BasePath)

	return &FileUploader{
		basePath: cfg.BasePath,
		logger:   logger,
	}, nil
}

// Backend returns "file".
func (u *FileUploader) Backend() string {
	return "file"
}

// Upload copies localPath to <base>/<key>.
func (u *FileUploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dst := filepath.Join(u.basePath, filepath.FromSlash(key))

	src, err := os.Open(localPath)
	if err != nil {
		return 0, &apperrors.StorageError{Operation: "read", Path: localPath, Err: err}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, &apperrors.StorageError{Operation: "create", Path: dst, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, &apperrors.StorageError{Operation: "create", Path: dst, Err: err}
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, dst)
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, &apperrors.StorageError{Operation: "upload", Path: dst, Err: err}
	}

	u.logger.Debug("copied shard", "path", localPath, "key", key, "bytes", n)
	return n, nil
}

// Close is a no-op.
func (u *FileUploader) Close() error {
	return nil
}
