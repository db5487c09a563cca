// Package dto holds the configuration document decoded by the loader.
package dto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Input         InputConfig         `mapstructure:"input"`
	Output        OutputConfig        `mapstructure:"output"`
	Filter        FilterConfig        `mapstructure:"filter"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Compaction    CompactionConfig    `mapstructure:"compaction"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	DeadLetter    DeadLetterConfig    `mapstructure:"dead_letter"`
	Search        SearchConfig        `mapstructure:"search"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// InputConfig selects the dump files to read.
type InputConfig struct {
	Path         string   `mapstructure:"path"`
	Recursive    bool     `mapstructure:"recursive"`
	Include      []string `mapstructure:"include"`
	Blacklist    []string `mapstructure:"blacklist"`
	Reverse      bool     `mapstructure:"reverse"`
	MaxLineBytes int      `mapstructure:"max_line_bytes"`
}

// OutputConfig contains the organized tree location
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// FilterConfig restricts the admitted categories. Categories are merged
// with the names read from AllowListPath.
type FilterConfig struct {
	AllowListPath string   `mapstructure:"allow_list_path"`
	Categories    []string `mapstructure:"categories"`
}

// PipelineConfig contains batching and parallelism settings
type PipelineConfig struct {
	Checkpointing       bool `mapstructure:"checkpointing"`
	BatchSize           int  `mapstructure:"batch_size"`
	Producers           int  `mapstructure:"producers"`
	Writers             int  `mapstructure:"writers"`
	QueueSize           int  `mapstructure:"queue_size"`
	FlushThresholdBytes int  `mapstructure:"flush_threshold_bytes"`
	SyncOnFlush         bool `mapstructure:"sync_on_flush"`
	MaxOpenFiles        int  `mapstructure:"max_open_files"`
}

// CheckpointConfig contains checkpoint store settings
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RetryConfig contains retry settings
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialBackoffMS  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// InitialBackoff returns the first retry delay.
func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry delay cap.
func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// CompactionConfig contains compactor settings
type CompactionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
	Workers int    `mapstructure:"workers"`
}

// ArchiveConfig contains object storage upload settings
type ArchiveConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Backend     string            `mapstructure:"backend"`
	BasePath    string            `mapstructure:"base_path"`
	DeleteLocal bool              `mapstructure:"delete_local"`
	Workers     int               `mapstructure:"workers"`
	S3          S3Config          `mapstructure:"s3"`
	GCS         GCSConfig         `mapstructure:"gcs"`
	Azure       AzureConfig       `mapstructure:"azure"`
	File        FileArchiveConfig `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// FileArchiveConfig contains local filesystem archive configuration
type FileArchiveConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// DeadLetterConfig selects where rejected lines are published.
type DeadLetterConfig struct {
	Sink  string          `mapstructure:"sink"`
	Path  string          `mapstructure:"path"`
	Kafka KafkaSinkConfig `mapstructure:"kafka"`
	AMQP  AMQPSinkConfig  `mapstructure:"amqp"`
}

// KafkaSinkConfig contains Kafka dead-letter producer configuration
type KafkaSinkConfig struct {
	BootstrapServers      []string `mapstructure:"bootstrap_servers"`
	Topic                 string   `mapstructure:"topic"`
	SecurityProtocol      string   `mapstructure:"security_protocol"`
	SASLMechanism         string   `mapstructure:"sasl_mechanism"`
	SASLUsername          string   `mapstructure:"sasl_username"`
	SASLPassword          string   `mapstructure:"sasl_password"`
	AWSRegion             string   `mapstructure:"aws_region"`
	TLSInsecureSkipVerify bool     `mapstructure:"tls_insecure_skip_verify"`
}

// AMQPSinkConfig contains RabbitMQ dead-letter configuration
type AMQPSinkConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

// SearchConfig contains search export settings
type SearchConfig struct {
	Format      string              `mapstructure:"format"`
	Compression string              `mapstructure:"compression"`
	Comments    bool                `mapstructure:"comments"`
	Reverse     bool                `mapstructure:"reverse"`
	OutputDir   string              `mapstructure:"output_dir"`
	Prefix      string              `mapstructure:"prefix"`
	Targets     map[string][]string `mapstructure:"targets"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// ProgressConfig contains progress reporting settings
type ProgressConfig struct {
	Mode       string `mapstructure:"mode"`
	IntervalMS int    `mapstructure:"interval_ms"`
}

// Interval returns the reporting interval.
func (c ProgressConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return invalid("application.name", "is required")
	}
	validators := []func() error{
		c.Input.Validate,
		c.Output.Validate,
		c.Pipeline.Validate,
		c.Retry.Validate,
		c.Compaction.Validate,
		c.Archive.Validate,
		c.DeadLetter.Validate,
		c.Search.Validate,
		c.Observability.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	if c.Pipeline.Checkpointing {
		return c.Checkpoint.Validate()
	}
	return nil
}

// Validate validates input settings.
func (c *InputConfig) Validate() error {
	if c.Path == "" {
		return invalid("input.path", "is required")
	}
	if c.MaxLineBytes < 0 {
		return invalid("input.max_line_bytes", "must not be negative")
	}
	return nil
}

// Validate validates output settings.
func (c *OutputConfig) Validate() error {
	if c.Dir == "" {
		return invalid("output.dir", "is required")
	}
	return nil
}

// Validate validates pipeline settings.
func (c *PipelineConfig) Validate() error {
	if c.BatchSize <= 0 {
		return invalid("pipeline.batch_size", "must be positive")
	}
	if c.FlushThresholdBytes <= 0 {
		return invalid("pipeline.flush_threshold_bytes", "must be positive")
	}
	for key, v := range map[string]int{
		"pipeline.producers":      c.Producers,
		"pipeline.writers":        c.Writers,
		"pipeline.queue_size":     c.QueueSize,
		"pipeline.max_open_files": c.MaxOpenFiles,
	} {
		if v < 0 {
			return invalid(key, "must not be negative")
		}
	}
	return nil
}

// Validate validates checkpoint settings.
func (c *CheckpointConfig) Validate() error {
	switch c.Backend {
	case "file", "bolt":
	default:
		return invalid("checkpoint.backend", fmt.Sprintf("unsupported backend %q", c.Backend))
	}
	if c.Path == "" {
		return invalid("checkpoint.path", "is required when checkpointing is enabled")
	}
	return nil
}

// Validate validates retry settings.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return invalid("retry.max_attempts", "must be at least 1")
	}
	if c.InitialBackoffMS < 0 || c.MaxBackoffMS < 0 {
		return invalid("retry", "backoff must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return invalid("retry.backoff_multiplier", "must be at least 1")
	}
	return nil
}

// Validate validates compaction settings.
func (c *CompactionConfig) Validate() error {
	if c.Workers < 0 {
		return invalid("compaction.workers", "must not be negative")
	}
	switch strings.ToLower(c.Level) {
	case "", "fastest", "default", "better", "best":
		return nil
	}
	if _, err := strconv.Atoi(c.Level); err != nil {
		return invalid("compaction.level", fmt.Sprintf("unknown level %q", c.Level))
	}
	return nil
}

// Validate validates archive settings. Backend settings are only checked
// when archiving is enabled.
func (c *ArchiveConfig) Validate() error {
	if c.Workers < 0 {
		return invalid("archive.workers", "must not be negative")
	}
	if !c.Enabled {
		return nil
	}

	switch c.Backend {
	case "s3":
		if c.S3.Bucket == "" {
			return invalid("archive.s3.bucket", "is required for S3 backend")
		}
		if c.S3.Region == "" {
			return invalid("archive.s3.region", "is required for S3 backend")
		}
	case "azure":
		if c.Azure.AccountName == "" {
			return invalid("archive.azure.account_name", "is required for Azure backend")
		}
		if c.Azure.Container == "" {
			return invalid("archive.azure.container", "is required for Azure backend")
		}
	case "gcs":
		if c.GCS.Bucket == "" {
			return invalid("archive.gcs.bucket", "is required for GCS backend")
		}
	case "file":
		if c.File.BasePath == "" {
			return invalid("archive.file.base_path", "is required for file backend")
		}
	default:
		return invalid("archive.backend", fmt.Sprintf("unsupported backend %q", c.Backend))
	}
	return nil
}

// Validate validates dead-letter settings.
func (c *DeadLetterConfig) Validate() error {
	switch c.Sink {
	case "", "none", "file":
	case "kafka":
		if len(c.Kafka.BootstrapServers) == 0 {
			return invalid("dead_letter.kafka.bootstrap_servers", "is required for kafka sink")
		}
		if c.Kafka.Topic == "" {
			return invalid("dead_letter.kafka.topic", "is required for kafka sink")
		}
	case "amqp":
		if c.AMQP.URL == "" {
			return invalid("dead_letter.amqp.url", "is required for amqp sink")
		}
		if c.AMQP.Queue == "" {
			return invalid("dead_letter.amqp.queue", "is required for amqp sink")
		}
	default:
		return invalid("dead_letter.sink", fmt.Sprintf("unsupported sink %q", c.Sink))
	}
	return nil
}

// Validate validates search export settings.
func (c *SearchConfig) Validate() error {
	switch c.Format {
	case "csv", "parquet", "avro":
	default:
		return invalid("search.format", fmt.Sprintf("unsupported format %q", c.Format))
	}
	if c.OutputDir == "" {
		return invalid("search.output_dir", "is required")
	}
	return nil
}

// Validate validates observability settings.
func (c *ObservabilityConfig) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return invalid("observability.logging.format", fmt.Sprintf("unsupported format %q", c.Logging.Format))
	}
	switch c.Progress.Mode {
	case "auto", "bar", "log", "none":
	default:
		return invalid("observability.progress.mode", fmt.Sprintf("unsupported mode %q", c.Progress.Mode))
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return invalid("observability.metrics.port", fmt.Sprintf("invalid port %d", c.Metrics.Port))
		}
		if c.Health.Port < 1 || c.Health.Port > 65535 {
			return invalid("observability.health.port", fmt.Sprintf("invalid port %d", c.Health.Port))
		}
	}
	return nil
}

func invalid(key, reason string) error {
	return &apperrors.ConfigError{Key: key, Reason: reason}
}
