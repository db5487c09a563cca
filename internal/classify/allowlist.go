package classify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
)

// AllowList is a set of sanitized category names.
type AllowList map[string]struct{}

// NewAllowList builds an allow-list from raw names.
// An optional "r/" prefix is stripped before sanitizing.
func NewAllowList(names ...string) AllowList {
	allow := make(AllowList, len(names))
	for _, name := range names {
		if category := normalize(name); category != "" {
			allow[category] = struct{}{}
		}
	}
	return allow
}

// Contains reports whether category is allowed. An empty list allows everything.
func (a AllowList) Contains(category string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[category]
	return ok
}

// Names returns the allowed categories in no particular order.
func (a AllowList) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	return names
}

// LoadAllowList reads a CSV file with a "name" column.
func LoadAllowList(path string) (AllowList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &apperrors.ConfigError{Key: "filter.allow_list_path", Reason: err.Error()}
	}
	defer f.Close()

	allow, err := ReadAllowList(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read allow-list %s: %w", path, err)
	}
	return allow, nil
}

// ReadAllowList parses CSV content with a header row containing "name".
func ReadAllowList(r io.Reader) (AllowList, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &apperrors.ConfigError{Key: "filter.allow_list_path", Reason: "empty allow-list file"}
		}
		return nil, err
	}

	column := -1
	for i, field := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(field, "\ufeff")), "name") {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, &apperrors.ConfigError{Key: "filter.allow_list_path", Reason: `missing "name" column`}
	}

	allow := make(AllowList)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if column >= len(row) {
			continue
		}
		if category := normalize(row[column]); category != "" {
			allow[category] = struct{}{}
		}
	}
	return allow, nil
}

func normalize(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && strings.EqualFold(name[:2], "r/") {
		name = name[2:]
	}
	return Sanitize(name)
}
