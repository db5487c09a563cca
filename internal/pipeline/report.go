package pipeline

import "time"

// State is the processing state of one input file.
type State string

const (
	StatePending     State = "PENDING"
	StateStreaming   State = "STREAMING"
	StateDraining    State = "DRAINING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
	StateInterrupted State = "INTERRUPTED"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// FileReport describes the outcome of one input file.
type FileReport struct {
	Path            string
	State           State
	StartOffset     int64
	Offset          int64
	CommittedOffset int64
	Records         int64
	Admitted        int64
	Filtered        int64
	Skipped         int64
	Batches         int64
	Error           string

	// drained is set once every batch of the file has been written.
	drained bool
}

// Report summarizes a pipeline run.
type Report struct {
	RunID    string
	Files    []FileReport
	Duration time.Duration
}

// Count returns the number of files in state.
func (r *Report) Count(state State) int {
	n := 0
	for _, f := range r.Files {
		if f.State == state {
			n++
		}
	}
	return n
}

// File returns the report of path.
func (r *Report) File(path string) (FileReport, bool) {
	for _, f := range r.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileReport{}, false
}

// Totals sums record counters across files.
func (r *Report) Totals() FileReport {
	var t FileReport
	for _, f := range r.Files {
		t.Records += f.Records
		t.Admitted += f.Admitted
		t.Filtered += f.Filtered
		t.Skipped += f.Skipped
		t.Batches += f.Batches
	}
	return t
}

// Report returns a snapshot of the current or last run.
func (c *Coordinator) Report() *Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := &Report{
		RunID: c.runID,
		Files: make([]FileReport, 0, len(c.order)),
	}
	for _, path := range c.order {
		if r, ok := c.files[path]; ok {
			report.Files = append(report.Files, *r)
		}
	}
	return report
}
