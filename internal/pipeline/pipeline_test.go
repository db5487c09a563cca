package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jittakal/dumpshard/internal/checkpoint"
	"github.com/jittakal/dumpshard/internal/classify"
	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/internal/retry"
	"github.com/jittakal/dumpshard/internal/shard"
	"github.com/jittakal/dumpshard/internal/source"
	pkgcheckpoint "github.com/jittakal/dumpshard/pkg/checkpoint"
	"github.com/jittakal/dumpshard/pkg/record"
)

var (
	jan2021 = time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC).Unix()
	feb2021 = time.Date(2021, 2, 10, 0, 0, 0, 0, time.UTC).Unix()
)

func line(sub string, ts int64, id string) string {
	return fmt.Sprintf(`{"id":%q,"subreddit":%q,"created_utc":%d}`, id, sub, ts)
}

func writeInput(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

type harness struct {
	outDir    string
	storePath string
	writer    *shard.Writer
	store     pkgcheckpoint.Store
}

func newHarness(t *testing.T, root string) *harness {
	t.Helper()
	h := &harness{
		outDir:    filepath.Join(root, "organized"),
		storePath: filepath.Join(root, "checkpoint.json"),
	}
	h.reopen(t)
	return h
}

func (h *harness) reopen(t *testing.T) {
	t.Helper()
	w, err := shard.NewWriter(shard.Config{
		OutputDir: h.outDir,
		Retry:     retry.Config{MaxAttempts: 1},
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	store, err := checkpoint.NewFileStore(h.storePath, nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	h.writer = w
	h.store = store
	t.Cleanup(func() {
		h.writer.Close()
		h.store.Close()
	})
}

func (h *harness) deps(allow ...string) Deps {
	return Deps{
		Classifier: classify.New(classify.NewAllowList(allow...), nil, nil),
		Writer:     h.writer,
		Store:      h.store,
		Open:       source.NewOpener(source.Options{}),
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

func (h *harness) shard(period, category string) string {
	return record.PartitionKey{Period: period, Category: category}.Path(h.outDir, record.ShardExt)
}

func TestRun_PartitionsByPeriodAndCategory(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	input := writeInput(t, root, "RS_2021.jsonl",
		line("a", jan2021, "1"),
		line("b", jan2021, "2"),
		line("a", feb2021, "3"),
	)

	c, err := New(Config{Checkpointing: true, BatchSize: 2, Writers: 2}, h.deps("a", "b"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	report, err := c.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, tc := range []struct {
		period, category, id string
	}{
		{"2021-01", "a", "1"},
		{"2021-01", "b", "2"},
		{"2021-02", "a", "3"},
	} {
		lines := readLines(t, h.shard(tc.period, tc.category))
		if len(lines) != 1 || !strings.Contains(lines[0], `"id":"`+tc.id+`"`) {
			t.Errorf("shard %s/%s = %v, want record %s", tc.period, tc.category, lines, tc.id)
		}
	}

	fr, ok := report.File(input)
	if !ok {
		t.Fatal("missing file report")
	}
	if fr.State != StateDone {
		t.Errorf("State = %s, want DONE", fr.State)
	}
	if fr.Records != 3 || fr.Admitted != 3 || fr.Batches != 2 {
		t.Errorf("unexpected counters %+v", fr)
	}

	info, _ := os.Stat(input)
	offsets, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if offsets[input] != info.Size() {
		t.Errorf("checkpoint = %d, want %d", offsets[input], info.Size())
	}
}

func TestRun_AllowListFilters(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	input := writeInput(t, root, "RC.jsonl",
		line("a", jan2021, "1"),
		line("b", jan2021, "2"),
		line("A", jan2021, "3"),
	)

	c, err := New(Config{Checkpointing: true, BatchSize: 10}, h.deps("a"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := c.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := os.Stat(h.shard("2021-01", "b")); !os.IsNotExist(err) {
		t.Errorf("expected no shard for b, stat error = %v", err)
	}
	if lines := readLines(t, h.shard("2021-01", "a")); len(lines) != 2 {
		t.Errorf("shard a has %d lines, want 2", len(lines))
	}
	if totals := report.Totals(); totals.Filtered != 1 || totals.Admitted != 2 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestRun_ResumeAfterCompletionIsNoop(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	input := writeInput(t, root, "RC.jsonl", line("a", jan2021, "1"), line("a", jan2021, "2"))

	for i := 0; i < 2; i++ {
		c, err := New(Config{Checkpointing: true, BatchSize: 1}, h.deps())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		report, err := c.Run(context.Background(), []string{input})
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		if report.Count(StateDone) != 1 {
			t.Fatalf("Run() #%d done = %d, want 1", i, report.Count(StateDone))
		}
	}

	if lines := readLines(t, h.shard("2021-01", "a")); len(lines) != 2 {
		t.Errorf("shard has %d lines after rerun, want 2", len(lines))
	}
}

// failingStore fails the nth commit and forwards every other call.
type failingStore struct {
	pkgcheckpoint.Store
	mu     sync.Mutex
	failAt int
	calls  int
}

func (s *failingStore) Commit(ctx context.Context, fileID string, offset int64) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	if n == s.failAt {
		return &apperrors.CommitError{FileID: fileID, Offset: offset, Err: errors.New("disk full")}
	}
	return s.Store.Commit(ctx, fileID, offset)
}

func TestRun_CrashBeforeCommitDuplicatesBatch(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	input := writeInput(t, root, "RC.jsonl",
		line("a", jan2021, "1"),
		line("a", jan2021, "2"),
		line("a", jan2021, "3"),
		line("a", jan2021, "4"),
	)

	deps := h.deps()
	deps.Store = &failingStore{Store: h.store, failAt: 2}
	cfg := Config{Checkpointing: true, BatchSize: 2, Producers: 1, Writers: 1}

	c, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := c.Run(context.Background(), []string{input})
	if !errors.Is(err, apperrors.ErrPipelineAborted) {
		t.Fatalf("Run() error = %v, want ErrPipelineAborted", err)
	}
	var commitErr *apperrors.CommitError
	if !errors.As(err, &commitErr) {
		t.Errorf("Run() error = %v, want CommitError in chain", err)
	}
	if fr, _ := report.File(input); fr.State == StateDone {
		t.Error("file must not be DONE after a failed commit")
	}
	if c.IsHealthy() {
		t.Error("coordinator should report unhealthy after abort")
	}

	// Restart from the checkpoint that was saved before the failure.
	h.writer.Close()
	h.store.Close()
	h.reopen(t)

	c, err = New(cfg, h.deps())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err = c.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if fr, _ := report.File(input); fr.State != StateDone || fr.Records != 2 {
		t.Errorf("second run report = %+v", fr)
	}

	counts := map[string]int{}
	for _, l := range readLines(t, h.shard("2021-01", "a")) {
		for _, id := range []string{"1", "2", "3", "4"} {
			if strings.Contains(l, `"id":"`+id+`"`) {
				counts[id]++
			}
		}
	}
	want := map[string]int{"1": 1, "2": 1, "3": 2, "4": 2}
	for id, n := range want {
		if counts[id] != n {
			t.Errorf("record %s appears %d times, want %d", id, counts[id], n)
		}
	}
}

func TestRun_MissingFileFailsOnlyThatFile(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	good := writeInput(t, root, "good.jsonl", line("a", jan2021, "1"))
	missing := filepath.Join(root, "missing.jsonl")

	c, err := New(Config{Checkpointing: true, BatchSize: 10}, h.deps())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := c.Run(context.Background(), []string{missing, good})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if fr, _ := report.File(missing); fr.State != StateFailed || fr.Error == "" {
		t.Errorf("missing file report = %+v", fr)
	}
	if fr, _ := report.File(good); fr.State != StateDone {
		t.Errorf("good file state = %s, want DONE", fr.State)
	}

	offsets, _ := h.store.Load(context.Background())
	if _, ok := offsets[missing]; ok {
		t.Error("failed file must not get a checkpoint")
	}
}

func TestRun_WithoutCheckpointing(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	inputs := []string{
		writeInput(t, root, "one.jsonl", line("a", jan2021, "1"), line("b", feb2021, "2")),
		writeInput(t, root, "two.jsonl", line("a", jan2021, "3")),
	}

	deps := h.deps()
	deps.Store = nil
	c, err := New(Config{BatchSize: 1, Producers: 2, Writers: 2}, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := c.Run(context.Background(), inputs)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Count(StateDone) != 2 {
		t.Errorf("done = %d, want 2", report.Count(StateDone))
	}

	lines := readLines(t, h.shard("2021-01", "a"))
	sort.Strings(lines)
	if len(lines) != 2 {
		t.Errorf("shard a = %v, want 2 lines", lines)
	}

	if _, err := os.Stat(h.storePath); !os.IsNotExist(err) {
		t.Error("no checkpoint should be written when checkpointing is off")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	input := writeInput(t, root, "RC.jsonl", line("a", jan2021, "1"))

	c, err := New(Config{Checkpointing: true}, h.deps())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := c.Run(ctx, []string{input})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if report.Count(StateInterrupted) != 1 {
		t.Errorf("interrupted = %d, want 1", report.Count(StateInterrupted))
	}
}

func TestRun_SkipsMalformedLines(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)
	input := writeInput(t, root, "RC.jsonl",
		line("a", jan2021, "1"),
		"{broken",
		line("a", jan2021, "2"),
		"{broken again",
		`{"id":"m1","subreddit":"a" "created_utc":1610236800}`,
		`{"id":"m2","subreddit":"a","created_utc":1610236800,"x":[1,2}`,
		`{"id":"m3","subreddit":"a","created_utc":1610236800,,}`,
	)

	c, err := New(Config{Checkpointing: true, BatchSize: 10}, h.deps())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := c.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	fr, _ := report.File(input)
	if fr.State != StateDone || fr.Skipped != 5 || fr.Records != 2 {
		t.Errorf("report = %+v", fr)
	}

	lines := readLines(t, h.shard("2021-01", "a"))
	if len(lines) != 2 || lines[0] != line("a", jan2021, "1") || lines[1] != line("a", jan2021, "2") {
		t.Errorf("shard = %v, want only the two well-formed records", lines)
	}

	// The checkpoint covers the trailing malformed line too.
	info, _ := os.Stat(input)
	if fr.CommittedOffset != info.Size() {
		t.Errorf("CommittedOffset = %d, want %d", fr.CommittedOffset, info.Size())
	}
}

func TestNew_Validation(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, root)

	tests := []struct {
		name   string
		cfg    Config
		mutate func(d *Deps)
	}{
		{name: "missing classifier", mutate: func(d *Deps) { d.Classifier = nil }},
		{name: "missing writer", mutate: func(d *Deps) { d.Writer = nil }},
		{name: "missing opener", mutate: func(d *Deps) { d.Open = nil }},
		{name: "missing store", cfg: Config{Checkpointing: true}, mutate: func(d *Deps) { d.Store = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := h.deps()
			tt.mutate(&deps)
			if _, err := New(tt.cfg, deps); err == nil {
				t.Error("expected error")
			}
		})
	}
}
