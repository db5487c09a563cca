package export

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jittakal/dumpshard/internal/source"
	"github.com/jittakal/dumpshard/pkg/record"
)

// Inputs resolves the files to export from root. When root is an organized
// output tree only the shards of targeted categories are returned, period by
// period, or every shard when there are no targets. Otherwise every dump file
// under root is returned.
func (e *Exporter) Inputs(root string, opts source.DiscoverOptions) ([]string, error) {
	periods, err := periodDirs(root)
	if err != nil || len(periods) == 0 {
		opts.Reverse = e.cfg.Reverse
		return source.Discover(root, opts)
	}

	if e.cfg.Reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(periods)))
	}

	var files []string
	for _, period := range periods {
		if e.all {
			shards, err := periodShards(root, period)
			if err != nil {
				return nil, err
			}
			files = append(files, shards...)
			continue
		}
		for _, category := range e.Categories() {
			for _, ext := range []string{record.ShardExt, record.CompactedExt} {
				path := filepath.Join(root, period, category+ext)
				if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
					files = append(files, path)
				}
			}
		}
	}
	return files, nil
}

// periodDirs returns the YYYY-MM subdirectories of root in ascending order.
func periodDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var periods []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.Parse(record.PeriodLayout, entry.Name()); err == nil {
			periods = append(periods, entry.Name())
		}
	}
	sort.Strings(periods)
	return periods, nil
}

// periodShards returns the shard files of one period directory in name order.
func periodShards(root, period string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, period))
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(root, period, entry.Name())
		for _, ext := range []string{record.ShardExt, record.CompactedExt} {
			if _, ok := record.ParseShardPath(root, path, ext); ok {
				files = append(files, path)
				break
			}
		}
	}
	return files, nil
}
