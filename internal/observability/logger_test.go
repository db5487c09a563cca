package observability

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		level  slog.Level
	}{
		{name: "json debug", config: LoggingConfig{Level: "debug", Format: "json"}, level: slog.LevelDebug},
		{name: "text info", config: LoggingConfig{Level: "info", Format: "text"}, level: slog.LevelInfo},
		{name: "warning alias", config: LoggingConfig{Level: "warning"}, level: slog.LevelWarn},
		{name: "uppercase", config: LoggingConfig{Level: "ERROR"}, level: slog.LevelError},
		{name: "invalid defaults to info", config: LoggingConfig{Level: "verbose"}, level: slog.LevelInfo},
		{name: "stdout", config: LoggingConfig{Output: "stdout"}, level: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
			if !logger.Enabled(context.Background(), tt.level) {
				t.Errorf("expected level %s to be enabled", tt.level)
			}
			if tt.level > slog.LevelDebug && logger.Enabled(context.Background(), tt.level-4) {
				t.Errorf("expected level below %s to be disabled", tt.level)
			}
		})
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dumpshard.log")

	logger := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	logger.Info("checkpoint committed", "file", "RC_2020-01.zst", "offset", 42)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"checkpoint committed"`) {
		t.Errorf("unexpected log content: %s", data)
	}
}

func TestLoggerWithAttributes(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger = logger.With("run_id", "r-1")
	logger.Info("pipeline starting", "files", 3)

	output := buf.String()
	for _, want := range []string{"run_id=r-1", "files=3", "pipeline starting"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got: %s", want, output)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" Info ":  slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", name, got, want)
		}
	}
}
