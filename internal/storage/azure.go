package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Uploader = (*AzureUploader)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

func validateAzureConfig(cfg AzureConfig) error {
	if cfg.AccountName == "" {
		return &apperrors.ConfigError{Key: "archive.azure.account_name", Reason: "must not be empty"}
	}
	if cfg.AccountKey == "" {
		return &apperrors.ConfigError{Key: "archive.azure.account_key", Reason: "must not be empty"}
	}
	if cfg.ContainerName == "" {
		return &apperrors.ConfigError{Key: "archive.azure.container_name", Reason: "must not be empty"}
	}
	return nil
}

// connectionString builds an account key connection string. A custom
// endpoint (for example Azurite) replaces the public endpoint suffix.
func (cfg AzureConfig) connectionString() string {
	if cfg.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		cfg.AccountName, cfg.AccountKey)
}

// AzureUploader implements storage.Uploader for Azure Blob Storage.
type AzureUploader struct {
	client        *azblob.Client
	containerName string
	logger        *slog.Logger
}

// NewAzureUploader creates a new Azure Blob uploader.
func NewAzureUploader(cfg AzureConfig, logger *slog.Logger) (*AzureUploader, error) {
	if err := validateAzureConfig(cfg); err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure uploader created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
	)

	return &AzureUploader{
		client:        client,
		containerName: cfg.ContainerName,
		logger:        logger,
	}, nil
}

// Backend returns "azure".
func (u *AzureUploader) Backend() string {
	return "azure"
}

// Upload stores localPath as the block blob key.
func (u *AzureUploader) Upload(ctx context.Context, localPath string, key string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, &apperrors.StorageError{Operation: "read", Path: localPath, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, &apperrors.StorageError{Operation: "read", Path: localPath, Err: err}
	}

	if _, err := u.client.UploadFile(ctx, u.containerName, key, file, nil); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, &apperrors.StorageError{Operation: "upload", Path: u.containerName + "/" + key, Err: err}
	}

	u.logger.Debug("uploaded shard to Azure", "blob", key, "bytes", info.Size())
	return info.Size(), nil
}

// Close closes the Azure uploader.
func (u *AzureUploader) Close() error {
	u.logger.Info("closing Azure uploader")
	return nil
}
