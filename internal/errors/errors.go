// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrWriterClosed     = errors.New("shard writer is closed")
	ErrStoreClosed      = errors.New("checkpoint store is closed")
	ErrSourceClosed     = errors.New("record source is closed")
	ErrPublisherClosed  = errors.New("dead letter publisher is closed")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrLineTooLong      = errors.New("line exceeds maximum size")
	ErrPipelineAborted  = errors.New("pipeline aborted")
	ErrConnectionLost   = errors.New("connection lost")
	ErrEmptyCompression = errors.New("compressed output is empty")
)

// DecodeError represents a line or frame that could not be decoded.
type DecodeError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: path=%s offset=%d: %v", e.Path, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SourceError represents an unrecoverable I/O failure on an input file.
type SourceError struct {
	Path string
	Op   string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error: operation=%s path=%s: %v", e.Op, e.Path, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ValidationError represents a record validation failure.
type ValidationError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: record_id=%s field=%s: %s",
		e.RecordID, e.Field, e.Reason)
}

// Unwrap lets callers match validation failures with ErrInvalidRecord.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CommitError represents a checkpoint commit failure.
type CommitError struct {
	FileID string
	Offset int64
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit error: file=%s offset=%d: %v",
		e.FileID, e.Offset, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Reason)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	switch e.Operation {
	case "write", "sync", "open", "create", "upload":
		return true
	default:
		return false
	}
}

// IsRetryable reports false: a failed commit means progress may not have been saved.
func (e *CommitError) IsRetryable() bool {
	return false
}
