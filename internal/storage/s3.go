package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Uploader = (*S3Uploader)(nil)

const zstdContentType = "application/zstd"

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

func validateS3Config(cfg S3Config) error {
	if cfg.Bucket == "" {
		return &apperrors.ConfigError{Key: "archive.s3.bucket", Reason: "must not be empty"}
	}
	if cfg.Region == "" {
		return &apperrors.ConfigError{Key: "archive.s3.region", Reason: "must not be empty"}
	}
	if cfg.SSEKMSKeyID != "" && !cfg.SSEEnabled {
		return &apperrors.ConfigError{Key: "archive.s3.sse_kms_key_id", Reason: "requires sse_enabled"}
	}
	return nil
}

// S3Uploader implements storage.Uploader for AWS S3 with multipart uploads
// and optional server-side encryption.
type S3Uploader struct {
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
	logger      *slog.Logger
}

// NewS3Uploader creates a new S3 uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Uploader, error) {
	if err := validateS3Config(cfg); err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	logger.Info("S3 uploader created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Uploader{
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		logger:      logger,
	}, nil
}

// Backend returns "s3".
func (u *S3Uploader) Backend() string {
	return "s3"
}

// Upload streams localPath to s3://bucket/key.
func (u *S3Uploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, &apperrors.StorageError{Operation: "read", Path: localPath, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, &apperrors.StorageError{Operation: "read", Path: localPath, Err: err}
	}

	input := u.putObjectInput(key)
	input.Body = file

	result, err := u.uploader.Upload(ctx, input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, &apperrors.StorageError{Operation: "upload", Path: "s3://" + u.bucket + "/" + key, Err: err}
	}

	u.logger.Debug("uploaded shard to S3", "key", key, "location", result.Location, "bytes", info.Size())
	return info.Size(), nil
}

// putObjectInput builds the request without a body.
func (u *S3Uploader) putObjectInput(key string) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(zstdContentType),
	}
	if u.sseEnabled {
		if u.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(u.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}
	return input
}

// Close closes the S3 uploader.
func (u *S3Uploader) Close() error {
	u.logger.Info("closing S3 uploader")
	return nil
}
