package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}
	return path
}

func TestLoader_Defaults(t *testing.T) {
	config, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Application.Name != "dumpshard" {
		t.Errorf("Application.Name = %s", config.Application.Name)
	}
	if config.Output.Dir != "organized" {
		t.Errorf("Output.Dir = %s", config.Output.Dir)
	}
	if !config.Pipeline.Checkpointing || config.Pipeline.BatchSize != 100000 {
		t.Errorf("Pipeline = %+v", config.Pipeline)
	}
	if config.Pipeline.FlushThresholdBytes != 1<<20 || config.Pipeline.MaxOpenFiles != 1024 {
		t.Errorf("Pipeline = %+v", config.Pipeline)
	}
	if config.Checkpoint.Backend != "file" || config.Checkpoint.Path != "checkpoint.json" {
		t.Errorf("Checkpoint = %+v", config.Checkpoint)
	}
	if len(config.Input.Include) != 5 {
		t.Errorf("Input.Include = %v", config.Input.Include)
	}
	if config.DeadLetter.Sink != "none" || config.Search.Format != "csv" {
		t.Errorf("DeadLetter.Sink = %s, Search.Format = %s", config.DeadLetter.Sink, config.Search.Format)
	}
	if config.Observability.Progress.Interval().Seconds() != 1 {
		t.Errorf("Progress.Interval() = %v", config.Observability.Progress.Interval())
	}
	if config.Retry.InitialBackoff().Milliseconds() != 100 {
		t.Errorf("Retry.InitialBackoff() = %v", config.Retry.InitialBackoff())
	}
}

func TestLoader_LoadFile(t *testing.T) {
	path := writeConfig(t, `
input:
  path: /data/dumps
  recursive: true
  blacklist: [RS_2019-01.zst]
output:
  dir: /data/organized
filter:
  categories: [AskReddit, science]
pipeline:
  batch_size: 5000
  writers: 3
checkpoint:
  backend: bolt
  path: /data/checkpoint.db
search:
  format: parquet
  targets:
    science: [fusion, "black hole"]
    askreddit: []
`)

	config, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Input.Path != "/data/dumps" || !config.Input.Recursive {
		t.Errorf("Input = %+v", config.Input)
	}
	if len(config.Input.Blacklist) != 1 || config.Input.Blacklist[0] != "RS_2019-01.zst" {
		t.Errorf("Input.Blacklist = %v", config.Input.Blacklist)
	}
	if len(config.Filter.Categories) != 2 {
		t.Errorf("Filter.Categories = %v", config.Filter.Categories)
	}
	if config.Pipeline.BatchSize != 5000 || config.Pipeline.Writers != 3 {
		t.Errorf("Pipeline = %+v", config.Pipeline)
	}
	if config.Checkpoint.Backend != "bolt" {
		t.Errorf("Checkpoint.Backend = %s", config.Checkpoint.Backend)
	}
	if got := config.Search.Targets["science"]; len(got) != 2 || got[1] != "black hole" {
		t.Errorf("Search.Targets[science] = %v", got)
	}
	if _, ok := config.Search.Targets["askreddit"]; !ok {
		t.Errorf("Search.Targets = %v, want askreddit", config.Search.Targets)
	}
}

func TestLoader_EnvironmentOverride(t *testing.T) {
	t.Setenv("APP_OUTPUT_DIR", "/from/env")
	t.Setenv("APP_PIPELINE_BATCH_SIZE", "42")

	config, err := NewLoader().Load(writeConfig(t, "output:\n  dir: /from/file\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Output.Dir != "/from/env" {
		t.Errorf("Output.Dir = %s, want /from/env", config.Output.Dir)
	}
	if config.Pipeline.BatchSize != 42 {
		t.Errorf("Pipeline.BatchSize = %d, want 42", config.Pipeline.BatchSize)
	}
}

func TestLoader_ExpandVariables(t *testing.T) {
	t.Setenv("DUMP_ROOT", "/mnt/pushshift")

	config, err := NewLoader().Load(writeConfig(t, "input:\n  path: ${DUMP_ROOT}/comments\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Input.Path != "/mnt/pushshift/comments" {
		t.Errorf("Input.Path = %s", config.Input.Path)
	}
}

func TestLoader_SetOverridesFile(t *testing.T) {
	loader := NewLoader()
	loader.Set("pipeline.checkpointing", false)
	loader.Set("output.dir", "/from/flag")

	config, err := loader.Load(writeConfig(t, "output:\n  dir: /from/file\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Output.Dir != "/from/flag" || config.Pipeline.Checkpointing {
		t.Errorf("Output.Dir = %s, Checkpointing = %v", config.Output.Dir, config.Pipeline.Checkpointing)
	}
}

func TestLoader_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
	}{
		{name: "zero batch size", content: "pipeline:\n  batch_size: 0\n", wantKey: "pipeline.batch_size"},
		{name: "unknown checkpoint backend", content: "checkpoint:\n  backend: redis\n", wantKey: "checkpoint.backend"},
		{name: "unknown sink", content: "dead_letter:\n  sink: sqs\n", wantKey: "dead_letter.sink"},
		{name: "kafka sink without brokers", content: "dead_letter:\n  sink: kafka\n", wantKey: "dead_letter.kafka.bootstrap_servers"},
		{name: "s3 archive without bucket", content: "archive:\n  enabled: true\n  backend: s3\n", wantKey: "archive.s3.bucket"},
		{name: "unknown search format", content: "search:\n  format: xlsx\n", wantKey: "search.format"},
		{name: "unknown compaction level", content: "compaction:\n  level: ultra\n", wantKey: "compaction.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			var cfgErr *apperrors.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want ConfigError", err)
			}
			if cfgErr.Key != tt.wantKey {
				t.Errorf("Key = %s, want %s", cfgErr.Key, tt.wantKey)
			}
		})
	}
}

func TestLoader_MalformedFile(t *testing.T) {
	if _, err := NewLoader().Load(writeConfig(t, "input: [unterminated\n")); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath(\"\") = %s, want %s", got, DefaultPath)
	}

	t.Setenv("CONFIG_PATH", "/etc/dumpshard.yaml")
	if got := ResolvePath(""); got != "/etc/dumpshard.yaml" {
		t.Errorf("ResolvePath(\"\") = %s", got)
	}
	if got := ResolvePath("flag.yaml"); got != "flag.yaml" {
		t.Errorf("ResolvePath(flag) = %s", got)
	}
}
