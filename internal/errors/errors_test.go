package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrWriterClosed", ErrWriterClosed},
		{"ErrStoreClosed", ErrStoreClosed},
		{"ErrSourceClosed", ErrSourceClosed},
		{"ErrPublisherClosed", ErrPublisherClosed},
		{"ErrInvalidRecord", ErrInvalidRecord},
		{"ErrLineTooLong", ErrLineTooLong},
		{"ErrPipelineAborted", ErrPipelineAborted},
		{"ErrConnectionLost", ErrConnectionLost},
		{"ErrEmptyCompression", ErrEmptyCompression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatalf("%s should not be nil", tt.name)
			}
			if tt.err.Error() == "" {
				t.Errorf("%s should have an error message", tt.name)
			}
		})
	}
}

func TestDecodeError(t *testing.T) {
	baseErr := errors.New("unexpected end of JSON input")
	err := &DecodeError{Path: "/dumps/RC_2020-01.zst", Offset: 4096, Err: baseErr}

	want := "decode error: path=/dumps/RC_2020-01.zst offset=4096: unexpected end of JSON input"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, baseErr) {
		t.Error("DecodeError should wrap base error")
	}
}

func TestSourceError(t *testing.T) {
	baseErr := errors.New("permission denied")
	err := &SourceError{Path: "/dumps/a.jsonl", Op: "open", Err: baseErr}

	if !errors.Is(err, baseErr) {
		t.Error("SourceError should wrap base error")
	}

	var target *SourceError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &target) {
		t.Fatal("expected errors.As to find SourceError")
	}
	if target.Op != "open" {
		t.Errorf("Op = %s, want open", target.Op)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		RecordID: "t3_abc",
		Field:    "subreddit",
		Reason:   "required field is missing",
	}

	if err.Error() == "" {
		t.Error("ValidationError should have an error message")
	}
	if !errors.Is(err, ErrInvalidRecord) {
		t.Error("ValidationError should match ErrInvalidRecord")
	}
}

func TestStorageError(t *testing.T) {
	baseErr := errors.New("disk full")
	storageErr := &StorageError{
		Operation: "write",
		Path:      "/data/2020-01/golang.jsonl",
		Err:       baseErr,
	}

	if storageErr.Error() == "" {
		t.Error("StorageError should have an error message")
	}

	if !errors.Is(storageErr, baseErr) {
		t.Error("StorageError should wrap base error")
	}
}

func TestCommitError(t *testing.T) {
	baseErr := errors.New("rename failed")
	commitErr := &CommitError{
		FileID: "/dumps/RS_2020-01.zst",
		Offset: 200,
		Err:    baseErr,
	}

	if commitErr.Error() == "" {
		t.Error("CommitError should have an error message")
	}

	if !errors.Is(commitErr, baseErr) {
		t.Error("CommitError should wrap base error")
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Key: "filter.allow_list_path", Reason: "file does not exist"}
	want := "config error: filter.allow_list_path: file does not exist"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "storage write error is retryable",
			err:  &StorageError{Operation: "write", Path: "/tmp/file", Err: errors.New("failed")},
			want: true,
		},
		{
			name: "wrapped storage upload error is retryable",
			err:  fmt.Errorf("archive: %w", &StorageError{Operation: "upload", Path: "k", Err: errors.New("503")}),
			want: true,
		},
		{
			name: "storage truncate error is not retryable",
			err:  &StorageError{Operation: "truncate", Path: "/tmp/file", Err: errors.New("failed")},
			want: false,
		},
		{
			name: "commit error is not retryable",
			err:  &CommitError{FileID: "a", Offset: 1, Err: ErrConnectionLost},
			want: false,
		},
		{
			name: "connection lost is retryable",
			err:  ErrConnectionLost,
			want: true,
		},
		{
			name: "validation error is not retryable",
			err:  &ValidationError{RecordID: "123", Field: "subreddit", Reason: "missing"},
			want: false,
		},
		{
			name: "generic error is not retryable",
			err:  errors.New("generic error"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
