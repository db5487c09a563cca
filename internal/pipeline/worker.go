package pipeline

import (
	"time"

	"github.com/jittakal/dumpshard/pkg/record"
)

// writeLoop appends every queued batch to the shard writer. After a fatal
// error batches are still received but discarded, so producers never block
// on a queue nobody reads.
func (c *Coordinator) writeLoop(id int, batches <-chan *record.Batch, events chan<- event, abort func(error)) {
	for batch := range batches {
		if c.aborted() {
			if c.metrics != nil {
				c.metrics.IncBatches("discarded")
			}
			continue
		}

		start := time.Now()
		if err := c.writeBatch(batch); err != nil {
			c.logger.Error("failed to write batch",
				"worker", id,
				"file", batch.FileID,
				"seq", batch.Seq,
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.IncBatches("error")
			}
			abort(err)
			continue
		}

		if c.metrics != nil {
			c.metrics.IncBatches("success")
			c.metrics.ObserveBatchDuration(time.Since(start).Seconds())
		}

		events <- event{
			kind:   eventConfirm,
			file:   batch.FileID,
			seq:    batch.Seq,
			offset: batch.Offset,
		}
	}
}

// writeBatch appends the entries of batch and, when checkpointing, flushes
// every shard the batch touched so the batch is durable once it returns.
func (c *Coordinator) writeBatch(batch *record.Batch) error {
	touched := make(map[record.PartitionKey]struct{})
	for _, e := range batch.Entries {
		if err := c.deps.Writer.Append(e.Key, e.Line); err != nil {
			return err
		}
		touched[e.Key] = struct{}{}
	}

	if !c.cfg.Checkpointing || len(touched) == 0 {
		return nil
	}

	keys := make([]record.PartitionKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	return c.deps.Writer.Flush(keys...)
}
