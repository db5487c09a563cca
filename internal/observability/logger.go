package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LoggingConfig contains logging configuration.
// Output is stdout, stderr or a file path; logs default to stderr so that
// progress bars and results on stdout stay readable.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// NewLogger creates a structured logger. Unknown levels fall back to info
// and an unwritable log file falls back to stderr.
func NewLogger(config LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}
	output := openOutput(config.Output)

	if strings.EqualFold(config.Format, "json") {
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) slog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		return slog.LevelWarn
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func openOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	}

	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return os.Stderr
	}
	return f
}
