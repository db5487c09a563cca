package classify

import (
	"log/slog"

	"github.com/jittakal/dumpshard/pkg/record"
)

// MaxCategoryLen is the maximum length of a sanitized category.
const MaxCategoryLen = 50

// Verdict is the outcome of classifying one record.
type Verdict int

const (
	// Admitted records have a partition key.
	Admitted Verdict = iota
	// NotAllowed records have a category outside the allow-list.
	NotAllowed
	// EmptyCategory records have nothing left after sanitization.
	EmptyCategory
)

// String returns the metric label of the verdict.
func (v Verdict) String() string {
	switch v {
	case Admitted:
		return "admitted"
	case NotAllowed:
		return "not_allowed"
	case EmptyCategory:
		return "empty_category"
	default:
		return "unknown"
	}
}

// MetricsCollector defines metrics operations for classification.
type MetricsCollector interface {
	IncRecordsClassified(verdict string)
}

// Classifier maps records to partition keys.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	allow   AllowList
	logger  *slog.Logger
	metrics MetricsCollector
}

// New creates a classifier. An empty allow-list admits every category.
func New(allow AllowList, logger *slog.Logger, metrics MetricsCollector) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		allow:   allow,
		logger:  logger,
		metrics: metrics,
	}
}

// Classify returns the partition key of rec, or false when the record is dropped.
func (c *Classifier) Classify(rec record.Record) (record.PartitionKey, bool) {
	key, verdict := c.Decide(rec)
	return key, verdict == Admitted
}

// Decide classifies rec and reports why a record was dropped.
func (c *Classifier) Decide(rec record.Record) (record.PartitionKey, Verdict) {
	category := Sanitize(rec.Subreddit)

	verdict := Admitted
	switch {
	case category == "":
		verdict = EmptyCategory
		c.logger.Debug("dropping record with empty category",
			"id", rec.ID,
			"subreddit", rec.Subreddit,
		)
	case !c.allow.Contains(category):
		verdict = NotAllowed
	}

	if c.metrics != nil {
		c.metrics.IncRecordsClassified(verdict.String())
	}

	if verdict != Admitted {
		return record.PartitionKey{}, verdict
	}

	return record.PartitionKey{
		Period:   record.Period(rec.CreatedUTC),
		Category: category,
	}, Admitted
}

// Sanitize lower-cases name, strips every character outside [a-z0-9_-] and
// truncates the result to MaxCategoryLen bytes. It is idempotent.
func Sanitize(name string) string {
	out := make([]byte, 0, min(len(name), MaxCategoryLen))
	for i := 0; i < len(name) && len(out) < MaxCategoryLen; i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
			out = append(out, c)
		}
	}
	return string(out)
}
