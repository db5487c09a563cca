package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jittakal/dumpshard/pkg/record"
)

// progressEvery is the number of records between progress updates.
const progressEvery = 4096

// produce streams one file into batches. Batches are pushed with a blocking
// send; writers keep draining the queue until it is closed, so a full queue
// only slows the producer down.
func (c *Coordinator) produce(
	ctx context.Context,
	path string,
	start int64,
	batches chan<- *record.Batch,
	events chan<- event,
) {
	logger := c.logger.With("file", path)

	if ctx.Err() != nil {
		return
	}

	src, err := c.deps.Open(path, start)
	if err != nil {
		c.failFile(path, err)
		events <- event{kind: eventFileEnd, file: path, seq: 0, offset: start, state: StateFailed}
		return
	}
	defer src.Close()

	c.setState(path, StateStreaming)

	var tracker ProgressTracker
	if c.deps.Progress != nil {
		_, size := src.Position()
		tracker = c.deps.Progress.Track(path, size)
	}

	logger.Info("streaming file", "start_offset", start)
	began := time.Now()

	var (
		seq        int64
		dispatched = start
		admitted   int
		filtered   int
		consumed   int64
		batch      = &record.Batch{FileID: path, Seq: seq, Offset: start}
		endState   = StateDraining
	)

	// lastGood is the offset after the last record returned by the source.
	lastGood := start
	dispatch := func(offset int64) {
		batch.Offset = offset
		batches <- batch
		if c.metrics != nil {
			c.metrics.SetQueueDepth(len(batches))
		}
		c.recordBatch(path, batch, admitted, filtered)
		dispatched = batch.Offset
		seq++
		admitted, filtered = 0, 0
		batch = &record.Batch{FileID: path, Seq: seq, Offset: dispatched}
	}

	for {
		if ctx.Err() != nil {
			endState = StateInterrupted
			break
		}

		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				endState = StateInterrupted
				break
			}
			logger.Error("failed to read file",
				"offset", src.Offset(),
				"error", err,
			)
			c.failFile(path, err)
			endState = StateFailed
			break
		}

		lastGood = rec.EndOffset
		batch.Consumed++
		consumed++
		if key, ok := c.deps.Classifier.Classify(rec); ok {
			batch.Entries = append(batch.Entries, record.Entry{Key: key, Line: rec.Raw})
			admitted++
		} else {
			filtered++
		}

		if batch.Consumed >= c.cfg.BatchSize {
			dispatch(lastGood)
		}

		if tracker != nil && consumed%progressEvery == 0 {
			raw, _ := src.Position()
			tracker.Update(raw, src.Stats().Records)
		}
	}

	// The trailing batch is dispatched even without admitted records so
	// the checkpoint reaches the end of the consumed input. Only a clean end
	// of stream may move past the last record.
	end := lastGood
	if endState == StateDraining {
		end = src.Offset()
	}
	if batch.Consumed > 0 || end > dispatched {
		dispatch(end)
	}

	stats := src.Stats()
	c.update(path, func(r *FileReport) {
		r.Skipped = stats.Skipped()
	})
	if endState == StateDraining {
		c.setState(path, StateDraining)
	}

	if tracker != nil {
		raw, _ := src.Position()
		tracker.Update(raw, stats.Records)
		tracker.Finish(string(endState))
	}

	logger.Info("finished streaming file",
		"state", endState,
		"batches", seq,
		"records", stats.Records,
		"skipped", stats.Skipped(),
		"offset", dispatched,
		"duration_ms", time.Since(began).Milliseconds(),
	)

	events <- event{kind: eventFileEnd, file: path, seq: seq, offset: dispatched, state: endState}
}

func (c *Coordinator) recordBatch(path string, b *record.Batch, admitted, filtered int) {
	c.update(path, func(r *FileReport) {
		r.Records += int64(b.Consumed)
		r.Admitted += int64(admitted)
		r.Filtered += int64(filtered)
		r.Offset = b.Offset
		r.Batches++
	})
	if c.metrics != nil {
		c.metrics.AddRecords("admitted", admitted)
		c.metrics.AddRecords("filtered", filtered)
	}
}

// failFile marks path FAILED. Its stored checkpoint is left untouched.
func (c *Coordinator) failFile(path string, err error) {
	c.logger.Error("file failed", "file", path, "error", err)
	c.update(path, func(r *FileReport) {
		r.Error = err.Error()
	})
	c.setState(path, StateFailed)
}
