package dto

import (
	"errors"
	"testing"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
)

func validConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Application: ApplicationInfo{Name: "dumpshard"},
		Input:       InputConfig{Path: "."},
		Output:      OutputConfig{Dir: "organized"},
		Pipeline: PipelineConfig{
			Checkpointing:       true,
			BatchSize:           100,
			FlushThresholdBytes: 1024,
		},
		Checkpoint: CheckpointConfig{Backend: "file", Path: "checkpoint.json"},
		Retry:      RetryConfig{MaxAttempts: 3, BackoffMultiplier: 2},
		Compaction: CompactionConfig{Level: "default"},
		Archive:    ArchiveConfig{Backend: "file"},
		DeadLetter: DeadLetterConfig{Sink: "none"},
		Search:     SearchConfig{Format: "csv", OutputDir: "."},
		Observability: ObservabilityConfig{
			Logging:  LoggingConfig{Level: "info", Format: "text"},
			Progress: ProgressConfig{Mode: "auto", IntervalMS: 1000},
		},
	}
}

func TestApplicationConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ApplicationConfig)
		wantKey string
	}{
		{name: "valid", mutate: func(c *ApplicationConfig) {}},
		{name: "missing name", mutate: func(c *ApplicationConfig) { c.Application.Name = "" }, wantKey: "application.name"},
		{name: "missing input", mutate: func(c *ApplicationConfig) { c.Input.Path = "" }, wantKey: "input.path"},
		{name: "missing output", mutate: func(c *ApplicationConfig) { c.Output.Dir = "" }, wantKey: "output.dir"},
		{name: "negative writers", mutate: func(c *ApplicationConfig) { c.Pipeline.Writers = -1 }, wantKey: "pipeline.writers"},
		{name: "zero flush threshold", mutate: func(c *ApplicationConfig) { c.Pipeline.FlushThresholdBytes = 0 }, wantKey: "pipeline.flush_threshold_bytes"},
		{name: "missing checkpoint path", mutate: func(c *ApplicationConfig) { c.Checkpoint.Path = "" }, wantKey: "checkpoint.path"},
		{
			name: "checkpoint ignored when disabled",
			mutate: func(c *ApplicationConfig) {
				c.Pipeline.Checkpointing = false
				c.Checkpoint = CheckpointConfig{}
			},
		},
		{name: "zero attempts", mutate: func(c *ApplicationConfig) { c.Retry.MaxAttempts = 0 }, wantKey: "retry.max_attempts"},
		{name: "shrinking backoff", mutate: func(c *ApplicationConfig) { c.Retry.BackoffMultiplier = 0.5 }, wantKey: "retry.backoff_multiplier"},
		{name: "numeric level", mutate: func(c *ApplicationConfig) { c.Compaction.Level = "19" }},
		{name: "unknown level", mutate: func(c *ApplicationConfig) { c.Compaction.Level = "max" }, wantKey: "compaction.level"},
		{name: "disabled archive unchecked", mutate: func(c *ApplicationConfig) { c.Archive.Backend = "ftp" }},
		{
			name: "azure without container",
			mutate: func(c *ApplicationConfig) {
				c.Archive = ArchiveConfig{Enabled: true, Backend: "azure", Azure: AzureConfig{AccountName: "acct"}}
			},
			wantKey: "archive.azure.container",
		},
		{
			name: "file archive without base path",
			mutate: func(c *ApplicationConfig) {
				c.Archive = ArchiveConfig{Enabled: true, Backend: "file"}
			},
			wantKey: "archive.file.base_path",
		},
		{name: "amqp without url", mutate: func(c *ApplicationConfig) { c.DeadLetter.Sink = "amqp" }, wantKey: "dead_letter.amqp.url"},
		{name: "unknown log format", mutate: func(c *ApplicationConfig) { c.Observability.Logging.Format = "xml" }, wantKey: "observability.logging.format"},
		{name: "unknown progress mode", mutate: func(c *ApplicationConfig) { c.Observability.Progress.Mode = "spinner" }, wantKey: "observability.progress.mode"},
		{
			name: "metrics port out of range",
			mutate: func(c *ApplicationConfig) {
				c.Observability.Metrics = MetricsConfig{Enabled: true, Port: 70000}
				c.Observability.Health.Port = 8080
			},
			wantKey: "observability.metrics.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantKey == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}

			var cfgErr *apperrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want ConfigError", err)
			}
			if cfgErr.Key != tt.wantKey {
				t.Errorf("Key = %s, want %s", cfgErr.Key, tt.wantKey)
			}
		})
	}
}

func TestRetryConfig_Durations(t *testing.T) {
	c := RetryConfig{InitialBackoffMS: 250, MaxBackoffMS: 4000}
	if got := c.InitialBackoff().String(); got != "250ms" {
		t.Errorf("InitialBackoff() = %s", got)
	}
	if got := c.MaxBackoff().String(); got != "4s" {
		t.Errorf("MaxBackoff() = %s", got)
	}
}
