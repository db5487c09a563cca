package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/checkpoint"
)

// mockMetrics implements MetricsCollector for testing.
type mockMetrics struct {
	mu      sync.Mutex
	commits map[string]int
}

func (m *mockMetrics) IncCheckpointCommits(backend, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commits == nil {
		m.commits = make(map[string]int)
	}
	m.commits[backend+"/"+status]++
}

func (m *mockMetrics) ObserveCommitLatency(backend string, seconds float64) {}

var backends = []struct {
	name string
	file string
}{
	{name: BackendFile, file: "checkpoint.json"},
	{name: BackendBolt, file: "checkpoint.db"},
}

func openStore(t *testing.T, backend, path string, metrics MetricsCollector) checkpoint.Store {
	t.Helper()
	store, err := New(Config{Backend: backend, Path: path}, nil, metrics)
	if err != nil {
		t.Fatalf("New(%s) error = %v", backend, err)
	}
	return store
}

func TestStore_CommitAndReload(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", b.file)
			metrics := &mockMetrics{}

			store := openStore(t, b.name, path, metrics)
			offsets, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(offsets) != 0 {
				t.Fatalf("Load() on fresh store = %v, want empty", offsets)
			}

			if err := store.Commit(ctx, "/dumps/RC_2020-01.zst", 200); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			if err := store.Commit(ctx, "/dumps/RS_2020-01.zst", 50); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			reopened := openStore(t, b.name, path, nil)
			defer reopened.Close()

			offsets, err = reopened.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if offsets["/dumps/RC_2020-01.zst"] != 200 || offsets["/dumps/RS_2020-01.zst"] != 50 {
				t.Errorf("Load() after reopen = %v", offsets)
			}
			if metrics.commits[b.name+"/success"] != 2 {
				t.Errorf("commit metrics = %v", metrics.commits)
			}
		})
	}
}

func TestStore_Monotonic(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			store := openStore(t, b.name, filepath.Join(t.TempDir(), b.file), nil)
			defer store.Close()

			for _, off := range []int64{100, 300, 200, 300} {
				if err := store.Commit(ctx, "f", off); err != nil {
					t.Fatalf("Commit(%d) error = %v", off, err)
				}
			}

			offsets, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if offsets["f"] != 300 {
				t.Errorf("offset = %d, want 300", offsets["f"])
			}
		})
	}
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			store := openStore(t, b.name, filepath.Join(t.TempDir(), b.file), nil)
			defer store.Close()

			if err := store.Commit(ctx, "f", 10); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			if err := store.Reset(ctx, "f"); err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			if err := store.Reset(ctx, "unknown"); err != nil {
				t.Fatalf("Reset() of unknown file error = %v", err)
			}

			offsets, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if _, ok := offsets["f"]; ok {
				t.Error("expected offset to be removed")
			}

			// A reset file can start over from a lower offset.
			if err := store.Commit(ctx, "f", 5); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			offsets, _ = store.Load(ctx)
			if offsets["f"] != 5 {
				t.Errorf("offset = %d, want 5", offsets["f"])
			}
		})
	}
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			store := openStore(t, b.name, filepath.Join(t.TempDir(), b.file), nil)
			if err := store.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if err := store.Close(); err != nil {
				t.Errorf("second Close() error = %v", err)
			}
			if err := store.Commit(ctx, "f", 1); !errors.Is(err, apperrors.ErrStoreClosed) {
				t.Errorf("Commit() error = %v, want ErrStoreClosed", err)
			}
			if _, err := store.Load(ctx); !errors.Is(err, apperrors.ErrStoreClosed) {
				t.Errorf("Load() error = %v, want ErrStoreClosed", err)
			}
		})
	}
}

func TestFileStore_CommitFailureKeepsPreviousOffset(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "checkpoint.json")

	store, err := NewFileStore(path, nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Commit(ctx, "f", 10); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	err = store.Commit(ctx, "f", 20)
	var commitErr *apperrors.CommitError
	if !errors.As(err, &commitErr) {
		t.Fatalf("Commit() error = %v, want CommitError", err)
	}
	if commitErr.Offset != 20 {
		t.Errorf("CommitError.Offset = %d, want 20", commitErr.Offset)
	}

	offsets, _ := store.Load(ctx)
	if offsets["f"] != 10 {
		t.Errorf("offset after failed commit = %d, want 10", offsets["f"])
	}
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(path, nil, nil)
	var storageErr *apperrors.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("NewFileStore() error = %v, want StorageError", err)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "checkpoint.json"), nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	defer store.Close()

	for i := int64(1); i <= 5; i++ {
		if err := store.Commit(context.Background(), "f", i); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "checkpoint.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only checkpoint.json", names)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "redis", Path: "x"}, nil, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
