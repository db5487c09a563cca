// Package validator provides record validation.
package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/record"
)

// maxCreatedUTC bounds timestamps to the year 9999.
var maxCreatedUTC = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix()

// RecordValidator checks the fields the pipeline relies on.
type RecordValidator struct{}

// NewRecordValidator creates a new record validator.
func NewRecordValidator() *RecordValidator {
	return &RecordValidator{}
}

// Validate validates a decoded record.
func (v *RecordValidator) Validate(r record.Record) error {
	if strings.TrimSpace(r.Subreddit) == "" {
		return &errors.ValidationError{
			RecordID: r.ID,
			Field:    "subreddit",
			Reason:   "required field is missing",
		}
	}

	if r.CreatedUTC < 0 || r.CreatedUTC > maxCreatedUTC {
		return &errors.ValidationError{
			RecordID: r.ID,
			Field:    "created_utc",
			Reason:   fmt.Sprintf("timestamp out of range: %d", r.CreatedUTC),
		}
	}

	return nil
}
