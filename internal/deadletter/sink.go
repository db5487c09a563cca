package deadletter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/source"
)

// Sink names.
const (
	SinkNone  = "none"
	SinkFile  = "file"
	SinkKafka = "kafka"
	SinkAMQP  = "amqp"
)

// DefaultFileName is the file sink's file name under the output directory.
const DefaultFileName = "dead_letters.jsonl"

// Ensure implementations satisfy interface at compile time.
var (
	_ source.DeadLetterPublisher = (*NopSink)(nil)
	_ source.DeadLetterPublisher = (*FileSink)(nil)
)

// NopSink discards rejections.
type NopSink struct{}

// Publish discards rej.
func (NopSink) Publish(context.Context, record.Rejection) error { return nil }

// Close is a no-op.
func (NopSink) Close() error { return nil }

// FileSink appends envelopes as JSON lines to a local file.
type FileSink struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool
}

// NewFileSink opens path for appending, creating parent directories.
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &apperrors.StorageError{Operation: "create", Path: path, Err: err}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, &apperrors.StorageError{Operation: "open", Path: path, Err: err}
	}

	logger.Info("dead letter file sink created", "path", path)
	return &FileSink{path: path, logger: logger, file: file, w: bufio.NewWriter(file)}, nil
}

// Publish appends the envelope of rej.
func (s *FileSink) Publish(ctx context.Context, rej record.Rejection) error {
	_, data, err := Encode(rej)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.ErrPublisherClosed
	}
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return &apperrors.StorageError{Operation: "write", Path: s.path, Err: err}
	}
	return nil
}

// Close flushes buffered envelopes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush dead letters: %w", err)
	}
	return s.file.Close()
}

// MetricsCollector defines metrics operations for dead letters.
type MetricsCollector interface {
	IncDeadLetters(sink string, status string)
}

// Handler forwards rejections to a publisher. Publish failures are logged
// and counted, never returned.
type Handler struct {
	publisher source.DeadLetterPublisher
	sink      string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   MetricsCollector
}

// NewHandler creates a Handler publishing to p. sink labels logs and metrics.
func NewHandler(p source.DeadLetterPublisher, sink string, logger *slog.Logger, metrics MetricsCollector) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		publisher: p,
		sink:      sink,
		timeout:   10 * time.Second,
		logger:    logger,
		metrics:   metrics,
	}
}

// Reject publishes rej. Its signature matches source.Options.OnReject.
func (h *Handler) Reject(rej record.Rejection) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, rej); err != nil {
		h.logger.Warn("failed to publish dead letter",
			"sink", h.sink,
			"file", rej.Path,
			"offset", rej.Offset,
			"reason", rej.Reason,
			"error", err,
		)
		if h.metrics != nil {
			h.metrics.IncDeadLetters(h.sink, "error")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.IncDeadLetters(h.sink, "success")
	}
}

// Close closes the publisher.
func (h *Handler) Close() error {
	return h.publisher.Close()
}
