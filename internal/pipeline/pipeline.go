// Package pipeline implements the checkpointed partition pipeline.
//
// A Coordinator streams input files through a Classifier into a sharded
// writer. Producers read one file each and dispatch bounded batches on a
// bounded queue. Writer workers append and flush batches. A single committer
// advances each file's checkpoint only past batches whose lines have been
// flushed, so an interrupted run resumes without losing records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/jittakal/dumpshard/internal/errors"
	"github.com/jittakal/dumpshard/pkg/checkpoint"
	"github.com/jittakal/dumpshard/pkg/record"
	"github.com/jittakal/dumpshard/pkg/shard"
	"github.com/jittakal/dumpshard/pkg/source"
)

// DefaultBatchSize is the number of consumed records per batch.
const DefaultBatchSize = 100_000

// Classifier maps a record to its partition key.
type Classifier interface {
	Classify(rec record.Record) (record.PartitionKey, bool)
}

// ProgressReporter creates progress trackers for input files.
type ProgressReporter interface {
	Track(path string, size int64) ProgressTracker
}

// ProgressTracker receives progress updates for one input file.
type ProgressTracker interface {
	Update(raw int64, records int64)
	Finish(state string)
}

// MetricsCollector defines metrics operations for the pipeline.
type MetricsCollector interface {
	AddRecords(status string, count int)
	IncBatches(status string)
	ObserveBatchDuration(seconds float64)
	IncFileStates(state string)
	SetQueueDepth(depth int)
}

// Config controls batching, parallelism and checkpointing.
// Zero values of Producers, Writers and QueueSize are derived from the
// number of CPUs and inputs.
type Config struct {
	Checkpointing bool
	BatchSize     int
	Producers     int
	Writers       int
	QueueSize     int
}

// Deps holds the collaborators of a Coordinator.
type Deps struct {
	Classifier Classifier
	Writer     shard.Writer
	// Store may be nil when checkpointing is disabled.
	Store    checkpoint.Store
	Open     source.Opener
	Progress ProgressReporter
	Logger   *slog.Logger
	Metrics  MetricsCollector
}

// Coordinator drives input files through the pipeline.
type Coordinator struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics MetricsCollector

	mu      sync.RWMutex
	files   map[string]*FileReport
	order   []string
	running bool
	fatal   error
	runID   string
}

// New creates a Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Classifier == nil {
		return nil, errors.New("pipeline: classifier is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("pipeline: shard writer is required")
	}
	if deps.Open == nil {
		return nil, errors.New("pipeline: source opener is required")
	}
	if cfg.Checkpointing && deps.Store == nil {
		return nil, errors.New("pipeline: checkpoint store is required when checkpointing is enabled")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Coordinator{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		files:   make(map[string]*FileReport),
	}, nil
}

// parallelism resolves derived worker counts for n input files.
func (c *Coordinator) parallelism(n int) (producers, writers, queue int) {
	half := runtime.NumCPU() / 2
	if half < 1 {
		half = 1
	}

	producers = c.cfg.Producers
	if producers <= 0 {
		producers = half
	}
	if n > 0 && producers > n {
		producers = n
	}
	if producers < 1 {
		producers = 1
	}

	writers = c.cfg.Writers
	if writers <= 0 {
		writers = half
	}

	queue = c.cfg.QueueSize
	if queue <= 0 {
		queue = 2 * writers
	}
	return producers, writers, queue
}

// Run processes files and returns a report of every file. The returned
// error is non-nil when the run was aborted by a fatal error or cancelled.
// A file that fails to open or read is marked FAILED without failing the run.
func (c *Coordinator) Run(ctx context.Context, files []string) (*Report, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, errors.New("pipeline: run already in progress")
	}
	c.running = true
	c.fatal = nil
	c.runID = uuid.NewString()
	c.files = make(map[string]*FileReport, len(files))
	c.order = append([]string(nil), files...)
	for _, f := range files {
		c.files[f] = &FileReport{Path: f, State: StatePending}
	}
	runID := c.runID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	start := time.Now()
	logger := c.logger.With("run_id", runID)

	offsets := map[string]int64{}
	if c.cfg.Checkpointing {
		loaded, err := c.deps.Store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoints: %w", err)
		}
		offsets = loaded
	}
	for _, f := range files {
		c.update(f, func(r *FileReport) {
			r.StartOffset = offsets[f]
			r.Offset = offsets[f]
			r.CommittedOffset = offsets[f]
		})
	}

	producers, writers, queue := c.parallelism(len(files))
	logger.Info("pipeline starting",
		"files", len(files),
		"checkpointing", c.cfg.Checkpointing,
		"batch_size", c.cfg.BatchSize,
		"producers", producers,
		"writers", writers,
		"queue_size", queue,
	)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	abort := func(err error) {
		c.mu.Lock()
		if c.fatal == nil {
			c.fatal = err
		}
		c.mu.Unlock()
		cancel(err)
	}

	batches := make(chan *record.Batch, queue)
	events := make(chan event, queue+producers)

	committerDone := make(chan struct{})
	go func() {
		defer close(committerDone)
		newCommitter(c, ctx, abort).run(events)
	}()

	var writersWG sync.WaitGroup
	for i := 0; i < writers; i++ {
		writersWG.Add(1)
		go func(id int) {
			defer writersWG.Done()
			c.writeLoop(id, batches, events, abort)
		}(i)
	}

	var g errgroup.Group
	g.SetLimit(producers)
	for _, f := range files {
		path := f
		g.Go(func() error {
			c.produce(runCtx, path, offsets[path], batches, events)
			return nil
		})
	}

	// Shutdown order: producers, then writers drain the queue, then the
	// committer drains confirmations.
	_ = g.Wait()
	close(batches)
	writersWG.Wait()
	close(events)
	<-committerDone

	fatal := c.fatalErr()
	if fatal == nil {
		if err := c.deps.Writer.FlushAll(); err != nil {
			fatal = err
			c.mu.Lock()
			c.fatal = err
			c.mu.Unlock()
		} else if !c.cfg.Checkpointing {
			c.completeUncheckpointed()
		}
	}
	c.finalize()

	report := c.Report()
	report.Duration = time.Since(start)

	logger.Info("pipeline finished",
		"done", report.Count(StateDone),
		"failed", report.Count(StateFailed),
		"interrupted", report.Count(StateInterrupted),
		"duration_ms", report.Duration.Milliseconds(),
	)

	if fatal != nil {
		return report, fmt.Errorf("%w: %w", apperrors.ErrPipelineAborted, fatal)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// completeUncheckpointed marks fully drained files DONE once the final
// flush succeeded.
func (c *Coordinator) completeUncheckpointed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.files {
		if r.State == StateDraining && r.drained {
			r.State = StateDone
			c.observeState(StateDone)
		}
	}
}

// finalize moves files that did not reach a terminal state to INTERRUPTED.
func (c *Coordinator) finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.files {
		switch r.State {
		case StateDone, StateFailed:
		default:
			r.State = StateInterrupted
			c.observeState(StateInterrupted)
		}
	}
}

func (c *Coordinator) fatalErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fatal
}

func (c *Coordinator) aborted() bool {
	return c.fatalErr() != nil
}

// update applies fn to the report of path under the coordinator lock.
func (c *Coordinator) update(path string, fn func(r *FileReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.files[path]; ok {
		fn(r)
	}
}

// setState moves path to state. Terminal states are never left.
func (c *Coordinator) setState(path string, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.files[path]
	if !ok || r.State.Terminal() || r.State == state {
		return
	}
	r.State = state
	c.observeState(state)
}

// observeState records a state transition. The caller must hold c.mu.
func (c *Coordinator) observeState(state State) {
	if c.metrics != nil {
		c.metrics.IncFileStates(string(state))
	}
}
