// Package checkpoint implements durable checkpoint stores.
package checkpoint

import (
	"fmt"
	"log/slog"

	"github.com/jittakal/dumpshard/pkg/checkpoint"
)

// Backend names.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// MetricsCollector defines metrics operations for checkpoint stores.
type MetricsCollector interface {
	IncCheckpointCommits(backend string, status string)
	ObserveCommitLatency(backend string, seconds float64)
}

// Config selects and configures a checkpoint backend.
type Config struct {
	Backend string
	Path    string
}

// New creates the checkpoint store selected by cfg.
func New(cfg Config, logger *slog.Logger, metrics MetricsCollector) (checkpoint.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(cfg.Path, logger, metrics)
	case BackendBolt:
		return NewBoltStore(cfg.Path, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}

func copyOffsets(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
