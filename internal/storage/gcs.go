package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	pkgstorage "github.com/jittakal/dumpshard/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Uploader = (*GCSUploader)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
	Endpoint        string
}

func validateGCSConfig(cfg GCSConfig) error {
	if cfg.Bucket == "" {
		return &apperrors.ConfigError{Key: "archive.gcs.bucket", Reason: "must not be empty"}
	}
	if cfg.CredentialsFile != "" && cfg.CredentialsJSON != "" {
		return &apperrors.ConfigError{Key: "archive.gcs.credentials_json", Reason: "conflicts with credentials_file"}
	}
	return nil
}

// clientOptions selects authentication. Without explicit credentials the
// client uses application default credentials.
func (cfg GCSConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// GCSUploader implements storage.Uploader for Google Cloud Storage.
type GCSUploader struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCSUploader creates a new Google Cloud Storage uploader.
func NewGCSUploader(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSUploader, error) {
	if err := validateGCSConfig(cfg); err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS uploader created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
	)

	return &GCSUploader{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Backend returns "gcs".
func (u *GCSUploader) Backend() string {
	return "gcs"
}

// Upload streams localPath to gs://bucket/key.
func (u *GCSUploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, &apperrors.StorageError{Operation: "read", Path: localPath, Err: err}
	}
	defer file.Close()

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = zstdContentType

	n, err := io.Copy(w, file)
	if err != nil {
		w.Close()
		return 0, u.uploadError(key, err)
	}
	if err := w.Close(); err != nil {
		return 0, u.uploadError(key, err)
	}

	u.logger.Debug("uploaded shard to GCS", "object", key, "bytes", n)
	return n, nil
}

func (u *GCSUploader) uploadError(key string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &apperrors.StorageError{Operation: "upload", Path: "gs://" + u.bucket + "/" + key, Err: err}
}

// Close closes the GCS client.
func (u *GCSUploader) Close() error {
	u.logger.Info("closing GCS uploader")
	if u.client != nil {
		return u.client.Close()
	}
	return nil
}
