package validator

import (
	"errors"
	"testing"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
)

func TestNewRecordValidator(t *testing.T) {
	validator := NewRecordValidator()
	if validator == nil {
		t.Fatal("expected non-nil validator")
	}
}

func TestRecordValidator_Validate(t *testing.T) {
	validator := NewRecordValidator()

	tests := []struct {
		name      string
		record    record.Record
		wantErr   bool
		wantField string
	}{
		{
			name:   "valid record",
			record: record.Record{ID: "abc", Subreddit: "golang", CreatedUTC: 1600000000},
		},
		{
			name:   "epoch timestamp",
			record: record.Record{Subreddit: "golang", CreatedUTC: 0},
		},
		{
			name:      "missing subreddit",
			record:    record.Record{ID: "abc", CreatedUTC: 1600000000},
			wantErr:   true,
			wantField: "subreddit",
		},
		{
			name:      "blank subreddit",
			record:    record.Record{ID: "abc", Subreddit: "   ", CreatedUTC: 1600000000},
			wantErr:   true,
			wantField: "subreddit",
		},
		{
			name:      "negative timestamp",
			record:    record.Record{ID: "abc", Subreddit: "golang", CreatedUTC: -5},
			wantErr:   true,
			wantField: "created_utc",
		},
		{
			name:      "timestamp in milliseconds beyond range",
			record:    record.Record{ID: "abc", Subreddit: "golang", CreatedUTC: 1 << 62},
			wantErr:   true,
			wantField: "created_utc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.record)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}

			var valErr *apperrors.ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if valErr.Field != tt.wantField {
				t.Errorf("Field = %s, want %s", valErr.Field, tt.wantField)
			}
			if !errors.Is(err, apperrors.ErrInvalidRecord) {
				t.Error("expected error to match ErrInvalidRecord")
			}
		})
	}
}
