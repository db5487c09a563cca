package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/checkpoint"
)

// Ensure implementation satisfies interface at compile time.
var _ checkpoint.Store = (*BoltStore)(nil)

var offsetsBucket = []byte("offsets")

// BoltStore keeps offsets in a bbolt database, one key per input file.
// Values are big-endian uint64 offsets.
type BoltStore struct {
	db      *bbolt.DB
	path    string
	logger  *slog.Logger
	metrics MetricsCollector
	closed  bool
	mu      sync.RWMutex
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string, logger *slog.Logger, metrics MetricsCollector) (*BoltStore, error) {
	if path == "" {
		return nil, &apperrors.ConfigError{Key: "checkpoint.path", Reason: "must not be empty"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &apperrors.StorageError{Operation: "mkdir", Path: path, Err: err}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &apperrors.StorageError{
			Operation: "open",
			Path:      path,
			Err:       fmt.Errorf("failed to open checkpoint database: %w", err),
		}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(offsetsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	logger.Info("checkpoint store opened",
		"backend", BackendBolt,
		"path", path,
	)

	return &BoltStore{
		db:      db,
		path:    path,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Load returns every stored offset.
func (s *BoltStore) Load(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.ErrStoreClosed
	}

	offsets := make(map[string]int64)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(offsetsBucket).ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("invalid offset value for %s", k)
			}
			offsets[string(k)] = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return nil, &apperrors.StorageError{Operation: "read", Path: s.path, Err: err}
	}
	return offsets, nil
}

// Commit records offset for fileID in a single transaction. bbolt syncs
// the database file before the transaction returns.
func (s *BoltStore) Commit(ctx context.Context, fileID string, offset int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return apperrors.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return &apperrors.CommitError{FileID: fileID, Offset: offset, Err: err}
	}

	start := time.Now()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(offsetsBucket)
		key := []byte(fileID)
		if v := b.Get(key); len(v) == 8 && int64(binary.BigEndian.Uint64(v)) >= offset {
			return nil
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(offset))
		return b.Put(key, buf[:])
	})

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.IncCheckpointCommits(BackendBolt, status)
		s.metrics.ObserveCommitLatency(BackendBolt, time.Since(start).Seconds())
	}

	if err != nil {
		return &apperrors.CommitError{FileID: fileID, Offset: offset, Err: err}
	}
	return nil
}

// Reset removes the stored offset of fileID.
func (s *BoltStore) Reset(ctx context.Context, fileID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return apperrors.ErrStoreClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(offsetsBucket).Delete([]byte(fileID))
	})
	if err != nil {
		return &apperrors.CommitError{FileID: fileID, Offset: 0, Err: err}
	}

	s.logger.Info("checkpoint reset", "file", fileID)
	return nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
