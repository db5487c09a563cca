package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/jittakal/dumpshard/internal/classify"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/source"
)

// recordingStore records every commit in order.
type recordingStore struct {
	mu      sync.Mutex
	commits []int64
}

func (s *recordingStore) Load(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (s *recordingStore) Commit(ctx context.Context, fileID string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, offset)
	return nil
}

func (s *recordingStore) Reset(ctx context.Context, fileID string) error { return nil }

func (s *recordingStore) Close() error { return nil }

// nopWriter discards every line.
type nopWriter struct{}

func (nopWriter) Append(key record.PartitionKey, line []byte) error { return nil }
func (nopWriter) Flush(keys ...record.PartitionKey) error           { return nil }
func (nopWriter) FlushAll() error                                   { return nil }
func (nopWriter) Close() error                                      { return nil }

func newTestCoordinator(t *testing.T, store *recordingStore) *Coordinator {
	t.Helper()
	c, err := New(Config{Checkpointing: true}, Deps{
		Classifier: classify.New(nil, nil, nil),
		Writer:     nopWriter{},
		Store:      store,
		Open:       func(string, int64) (source.Source, error) { return nil, nil },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.files["f"] = &FileReport{Path: "f", State: StateDraining}
	c.order = []string{"f"}
	return c
}

func TestCommitter_OutOfOrderConfirmations(t *testing.T) {
	store := &recordingStore{}
	c := newTestCoordinator(t, store)

	events := make(chan event, 8)
	events <- event{kind: eventConfirm, file: "f", seq: 2, offset: 300}
	events <- event{kind: eventConfirm, file: "f", seq: 1, offset: 200}
	events <- event{kind: eventFileEnd, file: "f", seq: 4, offset: 400, state: StateDraining}
	events <- event{kind: eventConfirm, file: "f", seq: 0, offset: 100}
	events <- event{kind: eventConfirm, file: "f", seq: 3, offset: 400}
	close(events)

	newCommitter(c, context.Background(), func(err error) {
		t.Errorf("unexpected abort: %v", err)
	}).run(events)

	want := []int64{300, 400}
	if len(store.commits) != len(want) {
		t.Fatalf("commits = %v, want %v", store.commits, want)
	}
	for i := range want {
		if store.commits[i] != want[i] {
			t.Errorf("commit %d = %d, want %d", i, store.commits[i], want[i])
		}
	}

	report := c.Report()
	if fr, _ := report.File("f"); fr.State != StateDone || fr.CommittedOffset != 400 {
		t.Errorf("report = %+v", fr)
	}
}

func TestCommitter_WaitsForEveryBatch(t *testing.T) {
	store := &recordingStore{}
	c := newTestCoordinator(t, store)

	events := make(chan event, 4)
	events <- event{kind: eventFileEnd, file: "f", seq: 2, offset: 200, state: StateDraining}
	events <- event{kind: eventConfirm, file: "f", seq: 1, offset: 200}
	close(events)

	newCommitter(c, context.Background(), func(error) {}).run(events)

	if len(store.commits) != 0 {
		t.Errorf("commits = %v, want none before batch 0 is confirmed", store.commits)
	}
	if fr, _ := c.Report().File("f"); fr.State == StateDone {
		t.Error("file must not be DONE with an unconfirmed batch")
	}
}

func TestCoordinator_Health(t *testing.T) {
	c := newTestCoordinator(t, &recordingStore{})

	if !c.Liveness() {
		t.Error("Liveness() = false, want true")
	}
	if c.Readiness(context.Background()) {
		t.Error("Readiness() = true before Run, want false")
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() = false, want true")
	}

	status := c.GetStatus()
	if status["files_draining"] != "1" || status["running"] != "false" {
		t.Errorf("GetStatus() = %v", status)
	}
}
