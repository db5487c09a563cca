package classify

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
)

func TestReadAllowList(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{
			name:    "single column",
			content: "name\nr/Golang\nrust\n",
			want:    []string{"golang", "rust"},
		},
		{
			name:    "name column among others",
			content: "rank,name,subscribers\n1,r/AskReddit,100\n2,r/funny,90\n",
			want:    []string{"askreddit", "funny"},
		},
		{
			name:    "header with BOM and spaces",
			content: "\ufeff Name \nPics\n",
			want:    []string{"pics"},
		},
		{
			name:    "blank and short rows skipped",
			content: "id,name\n1,\n2\n3,r/science\n",
			want:    []string{"science"},
		},
		{
			name:    "missing name column",
			content: "subreddit\ngolang\n",
			wantErr: true,
		},
		{
			name:    "empty file",
			content: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, err := ReadAllowList(strings.NewReader(tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadAllowList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var cfgErr *apperrors.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("expected ConfigError, got %T", err)
				}
				return
			}

			got := allow.Names()
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Names() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadAllowList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subreddits.csv")
	if err := os.WriteFile(path, []byte("name\nr/golang\n"), 0644); err != nil {
		t.Fatalf("failed to write allow-list: %v", err)
	}

	allow, err := LoadAllowList(path)
	if err != nil {
		t.Fatalf("LoadAllowList() error = %v", err)
	}
	if !allow.Contains("golang") {
		t.Error("expected golang to be allowed")
	}
	if allow.Contains("rust") {
		t.Error("expected rust to be rejected")
	}
}

func TestLoadAllowList_MissingFile(t *testing.T) {
	_, err := LoadAllowList(filepath.Join(t.TempDir(), "missing.csv"))
	if err == nil {
		t.Fatal("expected error for missing allow-list")
	}

	var cfgErr *apperrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError, got %T", err)
	}
}

func TestAllowList_Contains(t *testing.T) {
	var empty AllowList
	if !empty.Contains("anything") {
		t.Error("nil allow-list should allow everything")
	}

	allow := NewAllowList("r/a", "", "B")
	if len(allow) != 2 {
		t.Errorf("len = %d, want 2", len(allow))
	}
	if !allow.Contains("b") {
		t.Error("expected b to be allowed")
	}
}
