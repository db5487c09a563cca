package storage

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/storage"
)

// Archive backends.
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendAzure = "azure"
)

// BackendConfig selects and configures an upload backend.
type BackendConfig struct {
	Backend string
	S3      S3Config
	GCS     GCSConfig
	Azure   AzureConfig
	File    FileConfig
}

// NewUploader creates the uploader for cfg.Backend.
func NewUploader(ctx context.Context, cfg BackendConfig, logger *slog.Logger) (storage.Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendFile, "":
		return NewFileUploader(cfg.File, logger)
	case BackendS3:
		return NewS3Uploader(ctx, cfg.S3, logger)
	case BackendGCS:
		return NewGCSUploader(ctx, cfg.GCS, logger)
	case BackendAzure:
		return NewAzureUploader(cfg.Azure, logger)
	default:
		return nil, &apperrors.ConfigError{
			Key:    "archive.backend",
			Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend),
		}
	}
}
