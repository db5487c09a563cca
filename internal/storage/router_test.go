package storage

import (
	"path/filepath"
	"testing"

	"github.com/jittakal/dumpshard/pkg/record"
)

func TestDefaultRouter_Route(t *testing.T) {
	key := record.PartitionKey{Period: "2023-11", Category: "golang"}

	tests := []struct {
		name     string
		basePath string
		want     string
	}{
		{name: "no base path", basePath: "", want: "2023-11/golang.zst"},
		{name: "base path", basePath: "reddit", want: "reddit/2023-11/golang.zst"},
		{name: "slashes trimmed", basePath: "/archive/reddit/", want: "archive/reddit/2023-11/golang.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewRouter(tt.basePath).Route(key); got != tt.want {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyFromPath(t *testing.T) {
	root := filepath.Join("out", "organized")

	tests := []struct {
		name   string
		path   string
		want   record.PartitionKey
		wantOK bool
	}{
		{
			name:   "compacted shard",
			path:   filepath.Join(root, "2023-11", "golang.zst"),
			want:   record.PartitionKey{Period: "2023-11", Category: "golang"},
			wantOK: true,
		},
		{name: "uncompacted shard", path: filepath.Join(root, "2023-11", "golang.jsonl")},
		{name: "bad period", path: filepath.Join(root, "misc", "golang.zst")},
		{name: "too deep", path: filepath.Join(root, "2023-11", "x", "golang.zst")},
		{name: "at root", path: filepath.Join(root, "golang.zst")},
		{name: "empty category", path: filepath.Join(root, "2023-11", ".zst")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KeyFromPath(root, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("KeyFromPath() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("KeyFromPath() = %v, want %v", got, tt.want)
			}
		})
	}
}
