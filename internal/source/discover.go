package source

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
)

// DefaultInclude lists the patterns used when no include pattern is configured.
var DefaultInclude = []string{"*.zst", "*.jsonl", "*.ndjson", "*.json", "*.gz"}

// DiscoverOptions controls input discovery.
type DiscoverOptions struct {
	Recursive bool
	Include   []string
	// Blacklist holds base names or patterns of files to skip.
	Blacklist []string
	Reverse   bool
	// Exclude holds files or directories that are never inputs, such as the
	// checkpoint document or the output tree.
	Exclude []string
}

// Discover lists input files under root in lexicographic order.
// A root that names a regular file is returned as the only input.
func Discover(root string, opts DiscoverOptions) ([]string, error) {
	if len(opts.Include) == 0 {
		opts.Include = DefaultInclude
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &apperrors.SourceError{Path: root, Op: "discover", Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &apperrors.SourceError{Path: root, Op: "discover", Err: err}
	}
	if !info.IsDir() {
		return []string{abs}, nil
	}

	exclude, err := absPaths(opts.Exclude)
	if err != nil {
		return nil, &apperrors.SourceError{Path: root, Op: "discover", Err: err}
	}

	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != abs && (!opts.Recursive || excluded(exclude, path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || excluded(exclude, path) {
			return nil
		}

		name := d.Name()
		if strings.HasSuffix(name, ".tmp") {
			return nil
		}
		if matchAny(opts.Blacklist, name) || !matchAny(opts.Include, name) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, &apperrors.SourceError{Path: root, Op: "discover", Err: err}
	}

	sort.Strings(files)
	if opts.Reverse {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	return files, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func absPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}

// excluded reports whether path is one of paths or lies below one of them.
func excluded(paths []string, path string) bool {
	for _, p := range paths {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
