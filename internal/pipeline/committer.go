package pipeline

import (
	"context"
	"time"
)

type eventKind int

const (
	eventConfirm eventKind = iota
	eventFileEnd
)

// event is sent to the committer. A confirm event reports that batch seq
// of file is durable up to offset. A fileEnd event reports that seq batches
// were dispatched in total and the file ended in state.
type event struct {
	kind   eventKind
	file   string
	seq    int64
	offset int64
	state  State
}

// fileTrack follows the confirmations of one file.
type fileTrack struct {
	next      int64
	pending   map[int64]int64
	committed int64
	end       *event
	finished  bool
}

// committer is the only caller of Store.Commit.
type committer struct {
	c      *Coordinator
	ctx    context.Context
	abort  func(error)
	files  map[string]*fileTrack
	failed bool
}

func newCommitter(c *Coordinator, ctx context.Context, abort func(error)) *committer {
	return &committer{
		c: c,
		// Commits of drained batches must outlive a cancelled run.
		ctx:   context.WithoutCancel(ctx),
		abort: abort,
		files: make(map[string]*fileTrack),
	}
}

func (m *committer) run(events <-chan event) {
	for ev := range events {
		t := m.track(ev.file)

		switch ev.kind {
		case eventConfirm:
			t.pending[ev.seq] = ev.offset
			m.advance(ev.file, t)
		case eventFileEnd:
			end := ev
			t.end = &end
		}

		m.maybeFinish(ev.file, t)
	}
}

func (m *committer) track(file string) *fileTrack {
	t, ok := m.files[file]
	if !ok {
		var committed int64
		m.c.mu.RLock()
		if r, ok := m.c.files[file]; ok {
			committed = r.CommittedOffset
		}
		m.c.mu.RUnlock()

		t = &fileTrack{pending: make(map[int64]int64), committed: committed}
		m.files[file] = t
	}
	return t
}

// advance commits the offset of the longest run of contiguous confirmed
// batches. A batch confirmed out of order waits until every earlier batch
// of the same file is confirmed.
func (m *committer) advance(file string, t *fileTrack) {
	offset := int64(-1)
	for {
		off, ok := t.pending[t.next]
		if !ok {
			break
		}
		delete(t.pending, t.next)
		t.next++
		offset = off
	}

	if offset >= 0 {
		m.commit(file, t, offset)
	}
}

func (m *committer) maybeFinish(file string, t *fileTrack) {
	if t.finished || t.end == nil || t.next < t.end.seq {
		return
	}
	t.finished = true

	switch t.end.state {
	case StateDraining:
		if !m.c.cfg.Checkpointing {
			m.c.update(file, func(r *FileReport) { r.drained = true })
			return
		}
		if m.commit(file, t, t.end.offset) {
			m.c.setState(file, StateDone)
		}
	case StateFailed:
		m.c.setState(file, StateFailed)
	}
}

// commit durably records offset for file. A commit failure aborts the run
// and disables every later commit.
func (m *committer) commit(file string, t *fileTrack, offset int64) bool {
	if !m.c.cfg.Checkpointing {
		return true
	}
	if m.failed || m.c.aborted() {
		return false
	}
	if offset <= t.committed {
		return true
	}

	start := time.Now()
	if err := m.c.deps.Store.Commit(m.ctx, file, offset); err != nil {
		m.failed = true
		m.c.logger.Error("checkpoint commit failed",
			"file", file,
			"offset", offset,
			"error", err,
		)
		m.abort(err)
		return false
	}

	t.committed = offset
	m.c.update(file, func(r *FileReport) { r.CommittedOffset = offset })
	m.c.logger.Debug("checkpoint advanced",
		"file", file,
		"offset", offset,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true
}
