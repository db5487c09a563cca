// Package config loads the application configuration from a YAML file and
// APP_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/dumpshard/internal/config/dto"
)

// DefaultPath is read when neither a flag nor CONFIG_PATH names a file.
const DefaultPath = "config/application.yaml"

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// ResolvePath picks the config file: the flag value, then CONFIG_PATH, then
// DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultPath
}

// Set overrides a configuration key. Overrides take precedence over the
// file and the environment.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load loads configuration from file and environment variables. A missing
// file is not an error.
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only values containing ${...} are expanded.
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "dumpshard")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Input defaults
	l.v.SetDefault("input.path", ".")
	l.v.SetDefault("input.recursive", false)
	l.v.SetDefault("input.include", []string{"*.zst", "*.jsonl", "*.ndjson", "*.json", "*.gz"})
	l.v.SetDefault("input.blacklist", []string{})
	l.v.SetDefault("input.reverse", false)
	l.v.SetDefault("input.max_line_bytes", 16<<20)

	l.v.SetDefault("output.dir", "organized")

	l.v.SetDefault("filter.allow_list_path", "")
	l.v.SetDefault("filter.categories", []string{})

	// Pipeline defaults; zero parallelism values are derived from the CPU count
	l.v.SetDefault("pipeline.checkpointing", true)
	l.v.SetDefault("pipeline.batch_size", 100000)
	l.v.SetDefault("pipeline.producers", 0)
	l.v.SetDefault("pipeline.writers", 0)
	l.v.SetDefault("pipeline.queue_size", 0)
	l.v.SetDefault("pipeline.flush_threshold_bytes", 1<<20)
	l.v.SetDefault("pipeline.sync_on_flush", true)
	l.v.SetDefault("pipeline.max_open_files", 1024)

	l.v.SetDefault("checkpoint.backend", "file")
	l.v.SetDefault("checkpoint.path", "checkpoint.json")

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 5)
	l.v.SetDefault("retry.initial_backoff_ms", 100)
	l.v.SetDefault("retry.max_backoff_ms", 30000)
	l.v.SetDefault("retry.backoff_multiplier", 2.0)

	l.v.SetDefault("compaction.enabled", true)
	l.v.SetDefault("compaction.level", "default")
	l.v.SetDefault("compaction.workers", 0)

	// Archive defaults
	l.v.SetDefault("archive.enabled", false)
	l.v.SetDefault("archive.backend", "file")
	l.v.SetDefault("archive.base_path", "")
	l.v.SetDefault("archive.delete_local", false)
	l.v.SetDefault("archive.workers", 4)
	l.v.SetDefault("archive.s3.use_path_style", false)
	l.v.SetDefault("archive.s3.sse_enabled", true)

	// Dead letter defaults
	l.v.SetDefault("dead_letter.sink", "none")
	l.v.SetDefault("dead_letter.path", "")
	l.v.SetDefault("dead_letter.kafka.topic", "dumpshard-dlq")
	l.v.SetDefault("dead_letter.kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("dead_letter.kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("dead_letter.amqp.url", "")
	l.v.SetDefault("dead_letter.amqp.queue", "dumpshard-dlq")

	// Search defaults
	l.v.SetDefault("search.format", "csv")
	l.v.SetDefault("search.compression", "snappy")
	l.v.SetDefault("search.comments", false)
	l.v.SetDefault("search.reverse", true)
	l.v.SetDefault("search.output_dir", ".")
	l.v.SetDefault("search.prefix", "reddit")

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "text")
	l.v.SetDefault("observability.logging.output", "stderr")
	l.v.SetDefault("observability.metrics.enabled", false)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.progress.mode", "auto")
	l.v.SetDefault("observability.progress.interval_ms", 1000)
}
